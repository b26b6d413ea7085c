// Package conversation owns conversation persistence and the
// one-open-conversation-per-agent invariant.
package conversation

import (
	"context"
	"errors"
	"time"
)

// ErrConversationNotFound is returned when a conversation id does not
// resolve.
var ErrConversationNotFound = errors.New("conversation not found")

// Store is the persistence interface for conversations.
type Store interface {
	// Create inserts a new conversation.
	Create(ctx context.Context, conv *Conversation) (*Conversation, error)

	// Get retrieves a conversation by id.
	Get(ctx context.Context, id int64) (*Conversation, error)

	// ListOpen returns an agent's open conversations, newest first.
	// A correctly maintained store returns at most one row.
	ListOpen(ctx context.Context, agentID int64) ([]Conversation, error)

	// Update rewrites a conversation's messages, closed flag and
	// timestamps.
	Update(ctx context.Context, conv *Conversation) error

	// List returns conversations matching the filter.
	List(ctx context.Context, filter Filter) ([]Conversation, error)

	// Close marks a conversation closed.
	Close(ctx context.Context, id int64, endedAt time.Time) error

	// Delete removes a conversation.
	Delete(ctx context.Context, id int64) error

	// ListIdleOpen returns open conversations not touched since cutoff.
	ListIdleOpen(ctx context.Context, cutoff time.Time) ([]Conversation, error)

	// CountOpen returns the number of open conversations across agents.
	CountOpen(ctx context.Context) (int, error)
}
