package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ovalle/stateflow/internal/observability"
	"github.com/ovalle/stateflow/pkg/completion"
)

// Result is the classifier's verdict on a user message.
type Result struct {
	ChangeState bool   `json:"changeState"`
	Value       string `json:"value,omitempty"`
}

// Completer is the slice of the completion gateway the classifier needs.
type Completer interface {
	Complete(ctx context.Context, model string, messages []completion.Message) (string, error)
}

// Classifier asks the model whether the user wants to move to another
// dialogue state. It never fails a turn: any transport or parse problem
// degrades to "no transition".
type Classifier struct {
	completer Completer
	timeout   time.Duration
}

// NewClassifier creates a Classifier on top of a completion backend.
// timeout bounds each classification call.
func NewClassifier(completer Completer, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Classifier{completer: completer, timeout: timeout}
}

const instructionTemplate = `You are a state-transition intent detector.

Context:
1. currentPrompt: %q
2. userMessage: %q

Task:
- If the user wants to advance to another state, return:
  {"changeState": true, "value": "<keyword>"}
- If not, return:
  {"changeState": false}

Requirements:
1. Output ONLY valid JSON (no extra text or commentary).
2. No explanations.

Examples:
- If userMessage implies transition "ok", respond:
  {"changeState": true, "value": "ok"}
- Otherwise:
  {"changeState": false}`

// Classify interprets the user message against the current state prompt.
// Soft-fails to {changeState:false} on any error.
func (c *Classifier) Classify(ctx context.Context, userMessage, statePrompt, model string) Result {
	prompt := fmt.Sprintf(instructionTemplate, statePrompt, userMessage)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.completer.Complete(callCtx, model, []completion.Message{
		{Role: "system", Content: prompt},
	})
	if err != nil {
		c.softFail(err, "Intent classification call failed")
		return Result{ChangeState: false}
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		c.softFail(err, "Intent classification output was not valid JSON")
		return Result{ChangeState: false}
	}

	if result.ChangeState && result.Value == "" {
		c.softFail(nil, "Intent classification asked for a transition without a keyword")
		return Result{ChangeState: false}
	}

	return result
}

func (c *Classifier) softFail(err error, msg string) {
	observability.RecordClassifierSoftFailure()
	log.Warn().Err(err).Msg(msg)
}
