package config

import "strings"

// FullConfig is the runtime configuration stored in the database (options table, key="configs").
type FullConfig struct {
	AI       AIConfig        `json:"ai"`
	PromptAI PromptAIOptions `json:"prompt_ai"`
}

type AIConfig struct {
	Providers   []AIProvider       `json:"providers"`
	PromptModel *AIModelAssignment `json:"prompt_model,omitempty"`
}

type AIModelAssignment struct {
	ProviderID string `json:"provider_id"`
	Model      string `json:"model"`
}

type AIProvider struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"` // openai | openai-compatible | anthropic | openrouter | deepseek | gemini
	APIKey       string `json:"api_key"`
	Endpoint     string `json:"endpoint,omitempty"`
	DefaultModel string `json:"default_model"`
	Enabled      bool   `json:"enabled"`
}

// PromptAIOptions are the editor-facing prompt settings.
type PromptAIOptions struct {
	SystemPrompt          string `json:"system_prompt"`
	PromptMatrix          string `json:"prompt_matrix"`
	IndividualButtons     bool   `json:"individual_buttons"`
	Streaming             bool   `json:"streaming"`
	ExtendedDocumentTypes bool   `json:"extended_document_types"`
	MaxOutputTokens       int    `json:"max_output_tokens"`
}

func DefaultFullConfig() FullConfig {
	return FullConfig{
		AI: AIConfig{Providers: []AIProvider{}},
		PromptAI: PromptAIOptions{
			SystemPrompt:    "You are a helpful assistant for editors of a content management system. Answer with the requested text only, without introductions or explanations.",
			PromptMatrix:    "[]",
			Streaming:       true,
			MaxOutputTokens: 1024,
		},
	}
}

// SelectProvider picks the assigned enabled provider, falling back to the first enabled one.
// The assignment's model overrides the provider default.
func (c AIConfig) SelectProvider() *AIProvider {
	var providerID, overrideModel string
	if c.PromptModel != nil {
		providerID = strings.TrimSpace(c.PromptModel.ProviderID)
		overrideModel = strings.TrimSpace(c.PromptModel.Model)
	}

	pick := func(p AIProvider) *AIProvider {
		if overrideModel != "" {
			p.DefaultModel = overrideModel
		}
		return &p
	}

	if providerID != "" {
		for _, p := range c.Providers {
			if p.Enabled && strings.TrimSpace(p.ID) == providerID {
				return pick(p)
			}
		}
	}
	for _, p := range c.Providers {
		if p.Enabled {
			return pick(p)
		}
	}
	return nil
}
