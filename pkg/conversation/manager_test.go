package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	_, store := newTestDB(t)
	return NewManager(store)
}

func TestAppendTurn_CreatesConversation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	conv, err := m.AppendTurn(ctx, 1, "hello", "hi there", false)
	require.NoError(t, err)

	assert.False(t, conv.Closed)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, Message{Role: RoleUser, Text: "hello"}, conv.Messages[0])
	assert.Equal(t, Message{Role: RoleBot, Text: "hi there"}, conv.Messages[1])
}

func TestAppendTurn_AppendsToOpenConversation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, err := m.AppendTurn(ctx, 1, "hello", "hi", false)
	require.NoError(t, err)
	second, err := m.AppendTurn(ctx, 1, "more", "sure", false)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.Len(t, second.Messages, 4)
	assert.Equal(t, "more", second.Messages[2].Text)
}

func TestAppendTurn_CloseNow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	conv, err := m.AppendTurn(ctx, 1, "bye", "goodbye", true)
	require.NoError(t, err)
	assert.True(t, conv.Closed)
	require.NotNil(t, conv.EndedAt)
}

func TestAppendTurn_ClosedConversationNeverReopens(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	closed, err := m.AppendTurn(ctx, 1, "bye", "goodbye", true)
	require.NoError(t, err)

	next, err := m.AppendTurn(ctx, 1, "hello again", "welcome back", false)
	require.NoError(t, err)

	assert.NotEqual(t, closed.ID, next.ID)
	assert.False(t, next.Closed)

	reloaded, err := m.Get(ctx, closed.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Closed)
	assert.Len(t, reloaded.Messages, 2)
}

func TestAppendTurn_ConcurrentFirstTurnsKeepSingleOpen(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.AppendTurn(ctx, 42, fmt.Sprintf("msg %d", i), "reply", false)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	opens, err := m.store.ListOpen(ctx, 42)
	require.NoError(t, err)
	require.Len(t, opens, 1)
	assert.Len(t, opens[0].Messages, workers*2)
}

// fakeStore lets tests feed the manager a storage state the SQLite
// store's unique index would never allow, such as two open rows.
type fakeStore struct {
	mu     sync.Mutex
	opens  []Conversation
	closed []int64
}

func (f *fakeStore) Create(ctx context.Context, conv *Conversation) (*Conversation, error) {
	created := *conv
	created.ID = int64(len(f.opens) + 100)
	return &created, nil
}

func (f *fakeStore) Get(ctx context.Context, id int64) (*Conversation, error) {
	for i := range f.opens {
		if f.opens[i].ID == id {
			return &f.opens[i], nil
		}
	}
	return nil, ErrConversationNotFound
}

func (f *fakeStore) ListOpen(ctx context.Context, agentID int64) ([]Conversation, error) {
	out := make([]Conversation, len(f.opens))
	copy(out, f.opens)
	return out, nil
}

func (f *fakeStore) Update(ctx context.Context, conv *Conversation) error { return nil }

func (f *fakeStore) List(ctx context.Context, filter Filter) ([]Conversation, error) {
	return nil, nil
}

func (f *fakeStore) Close(ctx context.Context, id int64, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id int64) error { return nil }

func (f *fakeStore) ListIdleOpen(ctx context.Context, cutoff time.Time) ([]Conversation, error) {
	return nil, nil
}

func (f *fakeStore) CountOpen(ctx context.Context) (int, error) { return len(f.opens), nil }

func TestAppendTurn_DuplicateOpensResolvedNewestWins(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		opens: []Conversation{
			{ID: 20, AgentID: 1, Messages: []Message{}, CreatedAt: now},
			{ID: 10, AgentID: 1, Messages: []Message{}, CreatedAt: now.Add(-time.Minute)},
		},
	}
	m := NewManager(store)

	conv, err := m.AppendTurn(context.Background(), 1, "hi", "hello", false)
	require.NoError(t, err)

	// The newest open conversation absorbs the turn; the stale one is
	// closed, not duplicated further.
	assert.Equal(t, int64(20), conv.ID)
	assert.Equal(t, []int64{10}, store.closed)
}

func TestSweepIdle(t *testing.T) {
	_, store := newTestDB(t)
	m := NewManager(store)
	ctx := context.Background()

	old := time.Now().Add(-3 * time.Hour)
	stale, err := store.Create(ctx, &Conversation{AgentID: 1, Messages: []Message{}, CreatedAt: old, UpdatedAt: old})
	require.NoError(t, err)

	fresh, err := m.AppendTurn(ctx, 2, "hi", "hello", false)
	require.NoError(t, err)

	swept, err := m.SweepIdle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	reloaded, err := store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Closed)

	stillOpen, err := store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, stillOpen.Closed)
}

func TestManagerClose(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	conv, err := m.AppendTurn(ctx, 1, "hi", "hello", false)
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, conv.ID))

	reloaded, err := m.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Closed)
}

func TestNewSweeper_Validation(t *testing.T) {
	m := newTestManager(t)

	_, err := NewSweeper(nil, "* * * * *", time.Hour)
	assert.Error(t, err)

	_, err = NewSweeper(m, "* * * * *", 0)
	assert.Error(t, err)

	_, err = NewSweeper(m, "not a schedule", time.Hour)
	assert.Error(t, err)

	s, err := NewSweeper(m, "*/5 * * * *", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, s)
}
