package conversation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*sql.DB, *SQLiteStore) {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return db, store
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	_, store := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	created, err := store.Create(ctx, &Conversation{
		AgentID:   1,
		Messages:  []Message{{Role: RoleUser, Text: "hi"}, {Role: RoleBot, Text: "hello"}},
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	loaded, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.AgentID)
	assert.Len(t, loaded.Messages, 2)
	assert.False(t, loaded.Closed)
	assert.Nil(t, loaded.EndedAt)
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	_, store := newTestDB(t)

	_, err := store.Get(context.Background(), 777)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSQLiteStore_OpenUniquePerAgent(t *testing.T) {
	_, store := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	_, err := store.Create(ctx, &Conversation{AgentID: 7, Messages: []Message{}, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	// A second open conversation for the same agent violates the
	// partial unique index.
	_, err = store.Create(ctx, &Conversation{AgentID: 7, Messages: []Message{}, CreatedAt: now, UpdatedAt: now})
	assert.Error(t, err)

	// A closed one is fine.
	ended := now
	_, err = store.Create(ctx, &Conversation{AgentID: 7, Messages: []Message{}, Closed: true, CreatedAt: now, UpdatedAt: now, EndedAt: &ended})
	assert.NoError(t, err)
}

func TestSQLiteStore_NormalizesNonArrayPayload(t *testing.T) {
	db, store := newTestDB(t)
	ctx := context.Background()

	now := time.Now().Unix()
	res, err := db.Exec(
		`INSERT INTO conversations (agent_id, messages, closed, created_at, updated_at) VALUES (3, ?, 0, ?, ?)`,
		`{"oops": "not an array"}`, now, now)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	loaded, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []Message{}, loaded.Messages)
}

func TestSQLiteStore_ListFilters(t *testing.T) {
	_, store := newTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	ended := base.Add(time.Minute)
	_, err := store.Create(ctx, &Conversation{
		AgentID:   5,
		Messages:  []Message{{Role: RoleUser, Text: "weather in lisbon"}},
		Closed:    true,
		CreatedAt: base,
		UpdatedAt: base,
		EndedAt:   &ended,
	})
	require.NoError(t, err)
	open, err := store.Create(ctx, &Conversation{
		AgentID:   5,
		Messages:  []Message{{Role: RoleUser, Text: "book a table"}},
		CreatedAt: base.Add(time.Minute),
		UpdatedAt: base.Add(time.Minute),
	})
	require.NoError(t, err)

	closed := false
	opens, err := store.List(ctx, Filter{AgentID: 5, Closed: &closed})
	require.NoError(t, err)
	require.Len(t, opens, 1)
	assert.Equal(t, open.ID, opens[0].ID)

	matches, err := store.List(ctx, Filter{AgentID: 5, Keyword: "weather"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].Closed)

	all, err := store.List(ctx, Filter{AgentID: 5, SortDesc: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, open.ID, all[0].ID)
}

func TestSQLiteStore_CloseAndCount(t *testing.T) {
	_, store := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	conv, err := store.Create(ctx, &Conversation{AgentID: 2, Messages: []Message{}, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	count, err := store.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.Close(ctx, conv.ID, now))

	count, err = store.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	loaded, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Closed)
	require.NotNil(t, loaded.EndedAt)
}

func TestSQLiteStore_ListIdleOpen(t *testing.T) {
	_, store := newTestDB(t)
	ctx := context.Background()

	old := time.Now().Add(-3 * time.Hour)
	fresh := time.Now()

	stale, err := store.Create(ctx, &Conversation{AgentID: 1, Messages: []Message{}, CreatedAt: old, UpdatedAt: old})
	require.NoError(t, err)
	_, err = store.Create(ctx, &Conversation{AgentID: 2, Messages: []Message{}, CreatedAt: fresh, UpdatedAt: fresh})
	require.NoError(t, err)

	idle, err := store.ListIdleOpen(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, stale.ID, idle[0].ID)
}

func TestSQLiteStore_Delete(t *testing.T) {
	_, store := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	conv, err := store.Create(ctx, &Conversation{AgentID: 9, Messages: []Message{}, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, conv.ID))
	assert.ErrorIs(t, store.Delete(ctx, conv.ID), ErrConversationNotFound)
}
