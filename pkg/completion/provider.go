package completion

import (
	"context"
	"strings"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries everything a provider needs for one completion call.
type Request struct {
	Model    string
	Messages []Message
}

// Provider is the minimal surface a chat completion backend exposes.
type Provider interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Complete sends the messages and returns the assistant text.
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderFor picks the backend for a model name. Claude models go to
// Anthropic, everything else to OpenAI.
func ProviderFor(model string, openAI, anthropic Provider) Provider {
	if strings.HasPrefix(strings.ToLower(model), "claude") && anthropic != nil {
		return anthropic
	}
	return openAI
}
