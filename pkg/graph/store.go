// Package graph persists agents and their dialogue graphs: states and the
// labeled edges connecting them. It is pure data access; transition
// semantics live in the engine package.
package graph

import (
	"context"
	"errors"
)

var (
	// ErrAgentNotFound is returned when an agent id does not resolve.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrStateNotFound is returned when a state id does not resolve.
	ErrStateNotFound = errors.New("state not found")
)

// Store is the persistence interface for the dialogue graph.
type Store interface {
	// CreateAgent creates an agent and seeds it with an initial start
	// state.
	CreateAgent(ctx context.Context, name, globalPrompt string) (*Agent, *State, error)

	// GetAgent retrieves an agent by id.
	GetAgent(ctx context.Context, id int64) (*Agent, error)

	// ListAgents returns all agents in creation order.
	ListAgents(ctx context.Context) ([]Agent, error)

	// UpdateAgent applies a partial update and returns the updated row.
	UpdateAgent(ctx context.Context, id int64, update AgentUpdate) (*Agent, error)

	// CreateState creates a state, optionally with outgoing edges.
	CreateState(ctx context.Context, state *State, transitions []EdgeInput) (*State, error)

	// GetState retrieves a state by id.
	GetState(ctx context.Context, id int64) (*State, error)

	// ListStates returns an agent's states in creation order.
	ListStates(ctx context.Context, agentID int64) ([]State, error)

	// UpdateState applies a partial update. Raising IsStart or IsEnd
	// clears the flag on the agent's other states in the same
	// transaction, keeping the at-most-one invariant.
	UpdateState(ctx context.Context, id int64, update StateUpdate) error

	// UpdateStatePosition moves a state on the canvas.
	UpdateStatePosition(ctx context.Context, id int64, pos Position) error

	// DeleteState deletes a state and every edge referencing it as
	// source or target.
	DeleteState(ctx context.Context, id int64) error

	// CreateEdge creates a single edge.
	CreateEdge(ctx context.Context, edge *Edge) (*Edge, error)

	// ListEdges returns all of an agent's edges in stored order.
	ListEdges(ctx context.Context, agentID int64) ([]Edge, error)

	// ListEdgesFrom returns a state's outgoing edges in stored order.
	ListEdgesFrom(ctx context.Context, stateID int64) ([]Edge, error)

	// ReplaceEdgesFrom atomically replaces a state's outgoing edges.
	ReplaceEdgesFrom(ctx context.Context, stateID, agentID int64, transitions []EdgeInput) error

	// StatesWithTransitions returns an agent's states joined with their
	// materialized outgoing transitions. Self-loop edges and duplicate
	// (condition, target) pairs are dropped from the materialization.
	StatesWithTransitions(ctx context.Context, agentID int64) ([]StateWithTransitions, error)
}
