package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"

	appcfg "github.com/mx-space/promptai/internal/config"
)

var defaultCompatibleEndpoints = map[string]string{
	TypeOpenAICompatible: "https://api.openai.com",
	TypeOpenRouter:       "https://openrouter.ai/api",
	TypeDeepSeek:         "https://api.deepseek.com",
}

var defaultCompatibleModels = map[string]string{
	TypeOpenAICompatible: "gpt-4o-mini",
	TypeOpenRouter:       "openai/gpt-4o-mini",
	TypeDeepSeek:         "deepseek-chat",
}

// compatibleClient talks to any /v1/chat/completions endpoint directly.
type compatibleClient struct {
	endpoint     string
	apiKey       string
	model        string
	providerType string
	opts         Options
	http         *http.Client
}

func newCompatibleClient(provider *appcfg.AIProvider, providerType string, opts Options) *compatibleClient {
	endpoint := strings.TrimSpace(provider.Endpoint)
	if endpoint == "" {
		endpoint = defaultCompatibleEndpoints[providerType]
	}
	return &compatibleClient{
		endpoint:     normalizeCompatibleEndpoint(endpoint),
		apiKey:       strings.TrimSpace(provider.APIKey),
		model:        modelOrDefault(provider, defaultCompatibleModels[providerType]),
		providerType: providerType,
		opts:         opts,
		http:         opts.httpClient(),
	}
}

func (c *compatibleClient) ProviderType() string { return c.providerType }

func (c *compatibleClient) Chat(ctx context.Context, msg Message) (string, error) {
	resp, err := c.do(ctx, msg, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode %s response: %w", DisplayName(c.providerType), err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return nonEmpty(out.Choices[0].Message.Content)
}

func (c *compatibleClient) Stream(ctx context.Context, msg Message, onChunk func(string) error) (string, error) {
	resp, err := c.do(ctx, msg, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if event.Error != nil {
			return "", fmt.Errorf("%s stream error: %s", DisplayName(c.providerType), event.Error.Message)
		}
		if len(event.Choices) == 0 || event.Choices[0].Delta.Content == "" {
			continue
		}

		token := event.Choices[0].Delta.Content
		full.WriteString(token)
		if onChunk != nil {
			if err := onChunk(token); err != nil {
				return "", err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return nonEmpty(full.String())
}

func (c *compatibleClient) do(ctx context.Context, msg Message, stream bool) (*http.Response, error) {
	body, err := json.Marshal(c.requestBody(msg, stream))
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s error (%d): %s", DisplayName(c.providerType), resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp, nil
}

func (c *compatibleClient) requestBody(msg Message, stream bool) map[string]interface{} {
	messages := make([]map[string]interface{}, 0, 2)
	if strings.TrimSpace(c.opts.SystemPrompt) != "" {
		messages = append(messages, map[string]interface{}{
			"role":    "system",
			"content": c.opts.SystemPrompt,
		})
	}
	messages = append(messages, map[string]interface{}{
		"role":    "user",
		"content": userContent(msg),
	})

	body := map[string]interface{}{
		"model":      c.model,
		"messages":   messages,
		"max_tokens": c.opts.maxTokens(),
	}
	if stream {
		body["stream"] = true
	}
	return body
}

// userContent is a plain string for text-only prompts and a part list otherwise.
func userContent(msg Message) interface{} {
	a := msg.Attachment
	if a == nil {
		return msg.Prompt
	}
	dataURL := "data:" + a.MediaType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
	parts := []map[string]interface{}{{"type": "text", "text": msg.Prompt}}
	switch a.Kind {
	case AttachmentImage:
		parts = append(parts, map[string]interface{}{
			"type":      "image_url",
			"image_url": map[string]string{"url": dataURL},
		})
	case AttachmentDocument:
		parts = append(parts, map[string]interface{}{
			"type": "file",
			"file": map[string]string{"filename": a.Name, "file_data": dataURL},
		})
	}
	return parts
}

func normalizeCompatibleEndpoint(raw string) string {
	base := strings.TrimSpace(raw)
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimSuffix(strings.TrimRight(base, "/"), "/v1")
	}
	parsed.Path = strings.TrimSuffix(strings.TrimRight(parsed.Path, "/"), "/v1")
	return strings.TrimRight(parsed.String(), "/")
}
