package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	appcfg "github.com/mx-space/promptai/internal/config"
)

var (
	ErrNoProvider      = errors.New("no AI provider is enabled")
	ErrEmptyResponse   = errors.New("empty response from AI")
	ErrProviderNoFiles = errors.New("provider does not accept files")
)

const (
	TypeOpenAI           = "openai"
	TypeOpenAICompatible = "openai-compatible"
	TypeAnthropic        = "anthropic"
	TypeOpenRouter       = "openrouter"
	TypeDeepSeek         = "deepseek"
	TypeGemini           = "gemini"

	defaultMaxOutputTokens = 1024
	defaultRequestTimeout  = 120 * time.Second
)

type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is a file sent alongside the prompt text.
type Attachment struct {
	Kind      AttachmentKind
	Name      string
	MediaType string
	Data      []byte
}

type Message struct {
	Prompt     string
	Attachment *Attachment
}

// Client sends a single-turn request to one configured provider.
type Client interface {
	Chat(ctx context.Context, msg Message) (string, error)
	// Stream calls onChunk for every text delta and returns the full text.
	// An error returned by onChunk aborts the request.
	Stream(ctx context.Context, msg Message, onChunk func(string) error) (string, error)
	ProviderType() string
}

type Options struct {
	SystemPrompt    string
	MaxOutputTokens int
	HTTPClient      *http.Client
}

func (o Options) maxTokens() int {
	if o.MaxOutputTokens > 0 {
		return o.MaxOutputTokens
	}
	return defaultMaxOutputTokens
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: defaultRequestTimeout}
}

// New builds a client for the given provider.
func New(ctx context.Context, provider *appcfg.AIProvider, opts Options) (Client, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if strings.TrimSpace(provider.APIKey) == "" {
		return nil, fmt.Errorf("AI provider %q has no api key", DisplayName(provider.Type))
	}

	switch t := NormalizeType(provider.Type); t {
	case TypeGemini:
		c, err := newGeminiClient(ctx, provider, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	case TypeOpenAICompatible, TypeOpenRouter, TypeDeepSeek:
		return newCompatibleClient(provider, t, opts), nil
	case TypeAnthropic, TypeOpenAI:
		c, err := newJetifyClient(provider, t, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported AI provider type %q", provider.Type)
	}
}

func NormalizeType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, "_", "-")
	t = strings.ReplaceAll(t, " ", "")
	if t == "openaicompatible" {
		return TypeOpenAICompatible
	}
	return t
}

// SupportsFiles reports whether the provider accepts image and document input.
func SupportsFiles(providerType string) bool {
	return NormalizeType(providerType) != TypeDeepSeek
}

func DisplayName(providerType string) string {
	switch NormalizeType(providerType) {
	case TypeOpenAI:
		return "OpenAI"
	case TypeOpenAICompatible:
		return "OpenAI-compatible"
	case TypeAnthropic:
		return "Anthropic"
	case TypeOpenRouter:
		return "OpenRouter"
	case TypeDeepSeek:
		return "DeepSeek"
	case TypeGemini:
		return "Gemini"
	default:
		return providerType
	}
}

func modelOrDefault(provider *appcfg.AIProvider, fallback string) string {
	if m := strings.TrimSpace(provider.DefaultModel); m != "" {
		return m
	}
	return fallback
}

func nonEmpty(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
