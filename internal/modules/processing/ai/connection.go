package ai

import (
	"context"
	"fmt"
)

const connectionTestPrompt = "This is a test for the AI. Do you hear me?"

// ConnectionResult is what the settings screen shows after a connection test.
type ConnectionResult struct {
	Provider string `json:"provider"`
	Request  string `json:"request"`
	Response string `json:"response"`
}

// TestConnection sends a fixed probe message and echoes the exchange back.
func TestConnection(ctx context.Context, client Client) (*ConnectionResult, error) {
	if client == nil {
		return nil, ErrNoProvider
	}
	reply, err := client.Chat(ctx, Message{Prompt: connectionTestPrompt})
	if err != nil {
		return nil, fmt.Errorf("%s connection test failed: %w", DisplayName(client.ProviderType()), err)
	}
	return &ConnectionResult{
		Provider: DisplayName(client.ProviderType()),
		Request:  connectionTestPrompt,
		Response: reply,
	}, nil
}
