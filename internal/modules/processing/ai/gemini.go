package ai

import (
	"context"
	"fmt"
	"strings"

	appcfg "github.com/mx-space/promptai/internal/config"
	"google.golang.org/genai"
)

type geminiClient struct {
	client *genai.Client
	model  string
	opts   Options
}

func newGeminiClient(ctx context.Context, provider *appcfg.AIProvider, opts Options) (*geminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:     strings.TrimSpace(provider.APIKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.httpClient(),
	}
	if endpoint := strings.TrimRight(strings.TrimSpace(provider.Endpoint), "/"); endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: endpoint + "/"}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiClient{
		client: client,
		model:  modelOrDefault(provider, "gemini-2.0-flash"),
		opts:   opts,
	}, nil
}

func (c *geminiClient) ProviderType() string { return TypeGemini }

func (c *geminiClient) Chat(ctx context.Context, msg Message) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, c.contents(msg), c.config())
	if err != nil {
		return "", err
	}
	return nonEmpty(resp.Text())
}

func (c *geminiClient) Stream(ctx context.Context, msg Message, onChunk func(string) error) (string, error) {
	var full strings.Builder
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, c.contents(msg), c.config()) {
		if err != nil {
			return "", err
		}
		token := resp.Text()
		if token == "" {
			continue
		}
		full.WriteString(token)
		if onChunk != nil {
			if err := onChunk(token); err != nil {
				return "", err
			}
		}
	}
	return nonEmpty(full.String())
}

func (c *geminiClient) contents(msg Message) []*genai.Content {
	parts := []*genai.Part{genai.NewPartFromText(msg.Prompt)}
	if a := msg.Attachment; a != nil {
		parts = append(parts, genai.NewPartFromBytes(a.Data, a.MediaType))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func (c *geminiClient) config() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(c.opts.maxTokens())}
	if strings.TrimSpace(c.opts.SystemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(c.opts.SystemPrompt, genai.RoleUser)
	}
	return cfg
}
