package completion

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ovalle/stateflow/internal/observability"
	"github.com/ovalle/stateflow/pkg/tools"
)

// Action is a tool invocation requested by the model inside its reply.
type Action struct {
	ToolName string                 `json:"toolName"`
	Params   map[string]interface{} `json:"params"`
}

// Gateway talks to the completion providers and resolves model replies,
// including any tool action embedded in them.
type Gateway struct {
	openAI    Provider
	anthropic Provider
	registry  *tools.Registry
	timeout   time.Duration
}

// NewGateway wires the providers and the tool registry. The registry is
// read-only at turn time. timeout bounds every provider call.
func NewGateway(openAI, anthropic Provider, registry *tools.Registry, timeout time.Duration) (*Gateway, error) {
	if openAI == nil {
		return nil, errors.New("completion: openai provider is required")
	}
	if registry == nil {
		return nil, errors.New("completion: tool registry is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gateway{
		openAI:    openAI,
		anthropic: anthropic,
		registry:  registry,
		timeout:   timeout,
	}, nil
}

// Complete performs a raw completion call with the gateway's timeout.
// The classifier uses this directly.
func (g *Gateway) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	provider := ProviderFor(model, g.openAI, g.anthropic)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	text, err := provider.Complete(callCtx, Request{Model: model, Messages: messages})
	observability.RecordCompletionCall(provider.Name(), time.Since(start), err == nil)

	if err != nil {
		log.Error().
			Err(err).
			Str("provider", provider.Name()).
			Str("model", model).
			Msg("Completion call failed")
		return "", err
	}

	return text, nil
}

// Reply generates the bot reply for a turn. It sends exactly three chat
// turns, the agent's global prompt as system, the current state's prompt
// as assistant and the user message, then resolves any tool action the
// model embedded in its output. Tool failures are absorbed into the text;
// only the completion call's own error propagates.
func (g *Gateway) Reply(ctx context.Context, model, agentPrompt, statePrompt, userMessage string) (string, error) {
	raw, err := g.Complete(ctx, model, []Message{
		{Role: "system", Content: agentPrompt},
		{Role: "assistant", Content: statePrompt},
		{Role: "user", Content: userMessage},
	})
	if err != nil {
		return "", err
	}

	text, action := parseReply(raw)
	if action == nil {
		return text, nil
	}

	return g.applyAction(ctx, text, action), nil
}

// parseReply attempts to read the raw model output as {text, action}.
// Anything that is not that shape is treated as a literal reply.
func parseReply(raw string) (string, *Action) {
	var parsed struct {
		Text   string  `json:"text"`
		Action *Action `json:"action"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return raw, nil
	}

	text := parsed.Text
	if text == "" {
		text = raw
	}
	return text, parsed.Action
}

func (g *Gateway) applyAction(ctx context.Context, text string, action *Action) string {
	result, err := g.registry.Execute(ctx, action.ToolName, action.Params)
	switch {
	case errors.Is(err, tools.ErrNotFound):
		return text + "\nTool not found."
	case err != nil:
		log.Warn().
			Err(err).
			Str("tool", action.ToolName).
			Msg("Tool action failed")
		return text + "\nTool execution failed."
	}

	summary, err := json.Marshal(result)
	if err != nil {
		return text + "\nTool execution failed."
	}
	return text + "\nTool result: " + string(summary)
}
