package ai

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	appcfg "github.com/mx-space/promptai/internal/config"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetanthropic "go.jetify.com/ai/provider/anthropic"
	jetopenai "go.jetify.com/ai/provider/openai"
)

type jetifyClient struct {
	model         jetapi.LanguageModel
	providerType  string
	streamEnabled bool
	opts          Options
}

func newJetifyClient(provider *appcfg.AIProvider, providerType string, opts Options) (*jetifyClient, error) {
	model, streamEnabled, err := buildLanguageModel(provider, providerType, opts)
	if err != nil {
		return nil, err
	}
	return &jetifyClient{
		model:         model,
		providerType:  providerType,
		streamEnabled: streamEnabled,
		opts:          opts,
	}, nil
}

func (c *jetifyClient) ProviderType() string { return c.providerType }

func (c *jetifyClient) Chat(ctx context.Context, msg Message) (string, error) {
	resp, err := jetai.GenerateText(
		ctx,
		buildPromptMessages(c.opts.SystemPrompt, msg),
		jetai.WithModel(c.model),
		jetai.WithMaxOutputTokens(c.opts.maxTokens()),
	)
	if err != nil {
		return "", err
	}
	return extractText(resp)
}

func (c *jetifyClient) Stream(ctx context.Context, msg Message, onChunk func(string) error) (string, error) {
	if !c.streamEnabled {
		result, err := c.Chat(ctx, msg)
		if err != nil {
			return "", err
		}
		if onChunk != nil {
			if err := onChunk(result); err != nil {
				return "", err
			}
		}
		return result, nil
	}

	streamResp, err := jetai.StreamText(
		ctx,
		buildPromptMessages(c.opts.SystemPrompt, msg),
		jetai.WithModel(c.model),
		jetai.WithMaxOutputTokens(c.opts.maxTokens()),
	)
	if err != nil {
		return "", err
	}
	var full strings.Builder
	for event := range streamResp.Stream {
		switch evt := event.(type) {
		case *jetapi.TextDeltaEvent:
			if evt.TextDelta == "" {
				continue
			}
			full.WriteString(evt.TextDelta)
			if onChunk != nil {
				if err := onChunk(evt.TextDelta); err != nil {
					return "", err
				}
			}
		case *jetapi.ErrorEvent:
			if evt.Err == nil {
				return "", errors.New("AI stream returned an unknown error")
			}
			return "", fmt.Errorf("%v", evt.Err)
		}
	}
	return nonEmpty(full.String())
}

func buildPromptMessages(systemPrompt string, msg Message) []jetapi.Message {
	messages := make([]jetapi.Message, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, &jetapi.SystemMessage{Content: systemPrompt})
	}

	content := []jetapi.ContentBlock{&jetapi.TextBlock{Text: msg.Prompt}}
	if a := msg.Attachment; a != nil {
		switch a.Kind {
		case AttachmentImage:
			content = append(content, &jetapi.ImageBlock{Data: a.Data, MediaType: a.MediaType})
		case AttachmentDocument:
			content = append(content, &jetapi.FileBlock{Filename: a.Name, Data: a.Data, MediaType: a.MediaType})
		}
	}
	messages = append(messages, &jetapi.UserMessage{Content: content})
	return messages
}

func extractText(resp *jetapi.Response) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	var full strings.Builder
	for _, block := range resp.Content {
		textBlock, ok := block.(*jetapi.TextBlock)
		if !ok || textBlock.Text == "" {
			continue
		}
		full.WriteString(textBlock.Text)
	}
	return nonEmpty(full.String())
}

// buildLanguageModel returns the model and whether it should be streamed.
func buildLanguageModel(provider *appcfg.AIProvider, providerType string, opts Options) (jetapi.LanguageModel, bool, error) {
	apiKey := strings.TrimSpace(provider.APIKey)
	endpoint := strings.TrimSpace(provider.Endpoint)

	if providerType == TypeAnthropic {
		reqOpts := []anthropicoption.RequestOption{
			anthropicoption.WithAPIKey(apiKey),
			anthropicoption.WithMaxRetries(0),
			anthropicoption.WithHTTPClient(opts.httpClient()),
		}
		if endpoint != "" {
			reqOpts = append(reqOpts, anthropicoption.WithBaseURL(strings.TrimRight(endpoint, "/")))
		}
		client := anthropicclient.NewClient(reqOpts...)
		model := jetanthropic.NewLanguageModel(
			modelOrDefault(provider, "claude-haiku-4-5-20251001"),
			jetanthropic.WithClient(client),
		)
		return model, false, nil
	}

	reqOpts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
		openaioption.WithHTTPClient(opts.httpClient()),
	}
	if normalized := normalizeOpenAIBaseURL(endpoint); normalized != "" {
		reqOpts = append(reqOpts, openaioption.WithBaseURL(normalized))
	}
	client := openaiclient.NewClient(reqOpts...)
	model := jetopenai.NewLanguageModel(
		modelOrDefault(provider, "gpt-4o-mini"),
		jetopenai.WithClient(client),
	)
	return model, true, nil
}

func normalizeOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}

	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}
