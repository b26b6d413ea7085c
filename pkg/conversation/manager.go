package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ovalle/stateflow/internal/observability"
	"github.com/rs/zerolog/log"
)

// Manager serializes conversation writes per agent. Turns for the same
// agent take the agent's lock around the lookup-or-create in AppendTurn,
// which keeps append order equal to arrival order and makes the
// at-most-one-open invariant hold without relying on storage behavior.
type Manager struct {
	store   Store
	locks   map[int64]*sync.Mutex
	locksMu sync.Mutex
	now     func() time.Time
}

// NewManager creates a new conversation manager.
func NewManager(store Store) *Manager {
	observability.EnsureRegistered()

	return &Manager{
		store: store,
		locks: make(map[int64]*sync.Mutex),
		now:   time.Now,
	}
}

func (m *Manager) agentLock(agentID int64) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if lock, exists := m.locks[agentID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	m.locks[agentID] = lock
	return lock
}

// AppendTurn appends a user/bot message pair to the agent's open
// conversation, creating one when none exists. closeNow closes the
// conversation in the same write; a closed conversation never reopens.
func (m *Manager) AppendTurn(ctx context.Context, agentID int64, userText, botText string, closeNow bool) (*Conversation, error) {
	lock := m.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := m.openConversation(ctx, agentID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	turn := []Message{
		{Role: RoleUser, Text: userText},
		{Role: RoleBot, Text: botText},
	}

	if conv == nil {
		created := &Conversation{
			AgentID:   agentID,
			Messages:  turn,
			Closed:    closeNow,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if closeNow {
			created.EndedAt = &now
		}
		conv, err = m.store.Create(ctx, created)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		log.Debug().
			Int64("agentId", agentID).
			Int64("conversationId", conv.ID).
			Bool("closed", closeNow).
			Msg("Conversation created")
	} else {
		conv.Messages = append(conv.Messages, turn...)
		conv.UpdatedAt = now
		if closeNow {
			conv.Closed = true
			conv.EndedAt = &now
		}
		if err := m.store.Update(ctx, conv); err != nil {
			return nil, fmt.Errorf("failed to update conversation: %w", err)
		}
	}

	if closeNow {
		observability.RecordConversationClosed()
	}
	m.refreshOpenGauge(ctx)

	return conv, nil
}

// openConversation returns the agent's single open conversation, or nil.
// When more than one open row is found, the newest wins and the rest are
// closed as anomalies rather than duplicated further.
func (m *Manager) openConversation(ctx context.Context, agentID int64) (*Conversation, error) {
	opens, err := m.store.ListOpen(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open conversation: %w", err)
	}

	if len(opens) == 0 {
		return nil, nil
	}

	if len(opens) > 1 {
		observability.RecordConversationAnomaly()
		log.Warn().
			Int64("agentId", agentID).
			Int("count", len(opens)).
			Msg("Multiple open conversations found, closing all but the newest")

		now := m.now()
		for _, stale := range opens[1:] {
			if err := m.store.Close(ctx, stale.ID, now); err != nil {
				return nil, fmt.Errorf("failed to close anomalous conversation %d: %w", stale.ID, err)
			}
		}
	}

	return &opens[0], nil
}

// Get retrieves a conversation by id.
func (m *Manager) Get(ctx context.Context, id int64) (*Conversation, error) {
	return m.store.Get(ctx, id)
}

// List returns conversations matching the filter.
func (m *Manager) List(ctx context.Context, filter Filter) ([]Conversation, error) {
	return m.store.List(ctx, filter)
}

// Close marks a conversation closed.
func (m *Manager) Close(ctx context.Context, id int64) error {
	conv, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}

	lock := m.agentLock(conv.AgentID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.Close(ctx, id, m.now()); err != nil {
		return err
	}

	observability.RecordConversationClosed()
	m.refreshOpenGauge(ctx)
	return nil
}

// Delete removes a conversation.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.refreshOpenGauge(ctx)
	return nil
}

// SweepIdle closes open conversations whose last write is older than
// ttl. Returns the number of conversations closed.
func (m *Manager) SweepIdle(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := m.now().Add(-ttl)
	idle, err := m.store.ListIdleOpen(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list idle conversations: %w", err)
	}

	swept := 0
	for _, conv := range idle {
		lock := m.agentLock(conv.AgentID)
		lock.Lock()

		// Re-check under the lock: a turn may have landed since the
		// listing.
		current, err := m.store.Get(ctx, conv.ID)
		if err == nil && !current.Closed && current.UpdatedAt.Before(cutoff) {
			if err := m.store.Close(ctx, conv.ID, m.now()); err != nil {
				lock.Unlock()
				return swept, fmt.Errorf("failed to close idle conversation %d: %w", conv.ID, err)
			}
			swept++
		}

		lock.Unlock()
	}

	if swept > 0 {
		observability.RecordConversationsSwept(swept)
		m.refreshOpenGauge(ctx)
		log.Info().Int("count", swept).Msg("Idle conversations closed")
	}

	return swept, nil
}

func (m *Manager) refreshOpenGauge(ctx context.Context) {
	count, err := m.store.CountOpen(ctx)
	if err != nil {
		return
	}
	observability.SetOpenConversations(count)
}
