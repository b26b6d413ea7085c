// Package engine runs dialogue turns: it looks up the agent and state,
// generates the bot reply, classifies transition intent, resolves the
// next state and persists the exchange as a single commit.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ovalle/stateflow/internal/observability"
	"github.com/ovalle/stateflow/pkg/completion"
	"github.com/ovalle/stateflow/pkg/conversation"
	"github.com/ovalle/stateflow/pkg/graph"
	"github.com/ovalle/stateflow/pkg/intent"
)

// FarewellReply is appended when a turn lands on an end state.
const FarewellReply = "End of conversation! Thank you"

// farewellWords close the conversation when any of them appears in the
// normalized user message.
var farewellWords = []string{"tchau", "bye", "goodbye", "finish", "encerrar"}

// TurnRequest is one inbound user turn.
type TurnRequest struct {
	AgentID     int64  `json:"agentId"`
	StateID     int64  `json:"stateId"`
	UserMessage string `json:"userMessage"`
	Model       string `json:"model,omitempty"`
}

// TurnResponse is the engine's answer to a turn. NextStateID and
// NextStateName are nil once the conversation is closed.
type TurnResponse struct {
	ConversationID int64                  `json:"conversationId"`
	Responses      []conversation.Message `json:"responses"`
	NextStateID    *int64                 `json:"nextStateId"`
	NextStateName  *string                `json:"nextStateName"`
	Closed         bool                   `json:"closed"`
}

// Replier is the slice of the completion gateway the engine needs.
type Replier interface {
	Reply(ctx context.Context, model, agentPrompt, statePrompt, userMessage string) (string, error)
}

// Classifier yields the transition verdict for a user message.
type Classifier interface {
	Classify(ctx context.Context, userMessage, statePrompt, model string) intent.Result
}

// Orchestrator drives a turn through lookup, generation, transition
// resolution and persistence.
type Orchestrator struct {
	graph      graph.Store
	sessions   *conversation.Manager
	gateway    Replier
	classifier Classifier
	picker     *completion.Picker
}

// NewOrchestrator wires the turn pipeline.
func NewOrchestrator(store graph.Store, sessions *conversation.Manager, gateway Replier, classifier Classifier, picker *completion.Picker) *Orchestrator {
	return &Orchestrator{
		graph:      store,
		sessions:   sessions,
		gateway:    gateway,
		classifier: classifier,
		picker:     picker,
	}
}

// RunTurn executes one user turn. Persistence is the single commit
// point: nothing is written unless every upstream call succeeded and the
// request is still live.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	start := time.Now()

	resp, err := o.runTurn(ctx, req)

	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordTurn(status, time.Since(start))

	return resp, err
}

func (o *Orchestrator) runTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	agent, err := o.graph.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	current, err := o.graph.GetState(ctx, req.StateID)
	if err != nil {
		return nil, err
	}

	if current.IsEnd {
		return o.closeOut(ctx, req)
	}

	model := o.picker.Resolve(req.Model, agent.Model)
	normalized := strings.ToLower(strings.TrimSpace(req.UserMessage))

	reply, err := o.gateway.Reply(ctx, model, agent.GlobalPrompt, current.Prompt, req.UserMessage)
	if err != nil {
		return nil, fmt.Errorf("generating reply: %w", err)
	}

	verdict := o.classifier.Classify(ctx, req.UserMessage, current.Prompt, model)

	edges, err := o.graph.ListEdgesFrom(ctx, req.StateID)
	if err != nil {
		return nil, fmt.Errorf("loading edges: %w", err)
	}

	next, outcome, err := resolveNext(ctx, o.graph, current, edges, verdict, normalized)
	if err != nil {
		return nil, fmt.Errorf("resolving transition: %w", err)
	}
	observability.RecordTransition(outcome)

	closed := current.IsEnd || containsFarewell(normalized)

	// The append below is the only write of the turn. A cancelled
	// request must not commit.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conv, err := o.sessions.AppendTurn(ctx, req.AgentID, req.UserMessage, reply, closed)
	if err != nil {
		return nil, fmt.Errorf("persisting turn: %w", err)
	}

	log.Debug().
		Int64("agent_id", req.AgentID).
		Int64("state_id", current.ID).
		Int64("next_state_id", next.ID).
		Str("transition", outcome).
		Bool("closed", closed).
		Msg("Turn completed")

	resp := &TurnResponse{
		ConversationID: conv.ID,
		Responses: []conversation.Message{
			{Role: conversation.RoleBot, Text: reply},
			{Role: conversation.RoleBot, Text: "State: " + current.Name},
		},
		Closed: closed,
	}
	if !closed {
		resp.NextStateID = &next.ID
		name := next.Name
		resp.NextStateName = &name
	}
	return resp, nil
}

// closeOut handles a turn that arrives on an end state. No completion
// call is made; the session is torn down with a fixed farewell.
func (o *Orchestrator) closeOut(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	conv, err := o.sessions.AppendTurn(ctx, req.AgentID, req.UserMessage, FarewellReply, true)
	if err != nil {
		return nil, fmt.Errorf("closing conversation: %w", err)
	}

	log.Debug().
		Int64("agent_id", req.AgentID).
		Int64("state_id", req.StateID).
		Msg("End state reached, conversation closed")

	return &TurnResponse{
		ConversationID: conv.ID,
		Responses: []conversation.Message{
			{Role: conversation.RoleBot, Text: FarewellReply},
		},
		Closed: true,
	}, nil
}

func containsFarewell(normalizedMessage string) bool {
	for _, word := range farewellWords {
		if strings.Contains(normalizedMessage, word) {
			return true
		}
	}
	return false
}
