package graph

import (
	"strings"
	"time"
)

// DefaultCondition is the reserved wildcard edge label, matched
// case-insensitively.
const DefaultCondition = "default"

// Agent is a configured conversational persona. It owns the states and
// edges that make up its dialogue graph.
type Agent struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	GlobalPrompt string    `json:"globalPrompt"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Position is the 2D canvas position of a state. It is carried for
// persistence only; the engine never reads it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// State is one node in an agent's dialogue graph.
type State struct {
	ID       int64    `json:"id"`
	AgentID  int64    `json:"agentId"`
	Name     string   `json:"name"`
	Prompt   string   `json:"prompt"`
	IsStart  bool     `json:"isStart"`
	IsEnd    bool     `json:"isEnd"`
	Position Position `json:"position"`
}

// Edge is a directed, labeled transition between two states of the same
// agent.
type Edge struct {
	ID          int64  `json:"id"`
	AgentID     int64  `json:"agentId"`
	FromStateID int64  `json:"fromStateId"`
	ToStateID   int64  `json:"toStateId"`
	Condition   string `json:"condition"`
}

// IsDefault reports whether the edge carries the reserved wildcard label.
func (e Edge) IsDefault() bool {
	return strings.EqualFold(strings.TrimSpace(e.Condition), DefaultCondition)
}

// IsSelfLoop reports whether the edge points back at its source state.
func (e Edge) IsSelfLoop() bool {
	return e.FromStateID == e.ToStateID
}

// NormalizedCondition returns the trimmed, lowercased condition label.
func (e Edge) NormalizedCondition() string {
	return strings.ToLower(strings.TrimSpace(e.Condition))
}

// Transition is the display materialization of an outgoing edge.
type Transition struct {
	Condition string `json:"condition"`
	NextState int64  `json:"nextState"`
	Name      string `json:"name"`
}

// StateWithTransitions is a state joined with its materialized outgoing
// transitions, as served to graph editors.
type StateWithTransitions struct {
	State
	Transitions []Transition `json:"transitions"`
}

// AgentUpdate carries a partial agent mutation. Nil fields are left
// untouched.
type AgentUpdate struct {
	Name         *string
	GlobalPrompt *string
	Model        *string
}

// StateUpdate carries a partial state mutation. Nil fields are left
// untouched. Setting IsStart or IsEnd to true clears the flag on the
// agent's other states first.
type StateUpdate struct {
	Name     *string
	Prompt   *string
	IsStart  *bool
	IsEnd    *bool
	Position *Position
}

// EdgeInput describes an edge to create, used by state creation and
// transition replacement.
type EdgeInput struct {
	ToStateID int64  `json:"nextState"`
	Condition string `json:"condition"`
}
