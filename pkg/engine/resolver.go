package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/ovalle/stateflow/pkg/graph"
	"github.com/ovalle/stateflow/pkg/intent"
)

// Transition outcomes, used as the metrics label.
const (
	outcomeExplicit = "explicit"
	outcomeDefault  = "default"
	outcomeNone     = "none"
)

// stateLookup is the slice of graph.Store the resolver needs to verify
// edge targets.
type stateLookup interface {
	GetState(ctx context.Context, id int64) (*graph.State, error)
}

// resolveNext selects the next state from the current state's outgoing
// edges. Explicit edges are scanned first in stored order and require an
// exact match on the classified intent value. Default edges come second
// and match loosely, on the intent value appearing anywhere in the
// normalized user message. Edges whose target no longer exists are
// skipped. No match leaves the conversation in the current state.
func resolveNext(ctx context.Context, states stateLookup, current *graph.State, edges []graph.Edge, verdict intent.Result, normalizedMessage string) (*graph.State, string, error) {
	if !verdict.ChangeState || verdict.Value == "" || len(edges) == 0 {
		return current, outcomeNone, nil
	}

	expected := strings.ToLower(strings.TrimSpace(verdict.Value))
	if expected == "" {
		return current, outcomeNone, nil
	}

	var explicit, defaults []graph.Edge
	for _, edge := range edges {
		if edge.IsDefault() {
			defaults = append(defaults, edge)
		} else {
			explicit = append(explicit, edge)
		}
	}

	for _, edge := range explicit {
		if edge.NormalizedCondition() != expected {
			continue
		}
		next, err := targetState(ctx, states, edge.ToStateID)
		if err != nil {
			return nil, "", err
		}
		if next != nil {
			return next, outcomeExplicit, nil
		}
	}

	for _, edge := range defaults {
		if !strings.Contains(normalizedMessage, expected) {
			continue
		}
		next, err := targetState(ctx, states, edge.ToStateID)
		if err != nil {
			return nil, "", err
		}
		if next != nil {
			return next, outcomeDefault, nil
		}
	}

	return current, outcomeNone, nil
}

// targetState resolves an edge target, treating a dangling reference as
// a skip rather than an error.
func targetState(ctx context.Context, states stateLookup, id int64) (*graph.State, error) {
	next, err := states.GetState(ctx, id)
	if errors.Is(err, graph.ErrStateNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}
