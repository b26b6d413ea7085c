package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// SQLiteStore implements Store on a shared SQLite handle. A partial
// unique index on (agent_id) WHERE closed = 0 backs up the manager's
// per-agent locking: even a racing writer cannot commit a second open
// conversation.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and its schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize conversation schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id INTEGER NOT NULL,
		messages TEXT NOT NULL DEFAULT '[]',
		closed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(agent_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_one_open
		ON conversations(agent_id) WHERE closed = 0;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Create inserts a new conversation.
func (s *SQLiteStore) Create(ctx context.Context, conv *Conversation) (*Conversation, error) {
	payload, err := json.Marshal(conv.Messages)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (agent_id, messages, closed, created_at, updated_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.AgentID, string(payload), boolToInt(conv.Closed),
		conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(), nullableUnix(conv.EndedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}

	created := *conv
	created.ID = id
	return &created, nil
}

// Get retrieves a conversation by id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	conv, err := scanConversation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return conv, nil
}

// ListOpen returns an agent's open conversations, newest first.
func (s *SQLiteStore) ListOpen(ctx context.Context, agentID int64) ([]Conversation, error) {
	return s.query(ctx,
		selectColumns+` WHERE agent_id = ? AND closed = 0 ORDER BY created_at DESC, id DESC`,
		agentID)
}

// Update rewrites a conversation's messages, closed flag and timestamps.
func (s *SQLiteStore) Update(ctx context.Context, conv *Conversation) error {
	payload, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET messages = ?, closed = ?, updated_at = ?, ended_at = ? WHERE id = ?`,
		string(payload), boolToInt(conv.Closed), conv.UpdatedAt.Unix(),
		nullableUnix(conv.EndedAt), conv.ID,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// List returns conversations matching the filter.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Conversation, error) {
	query := selectColumns + ` WHERE 1 = 1`
	args := []interface{}{}

	if filter.AgentID != 0 {
		query += ` AND agent_id = ?`
		args = append(args, filter.AgentID)
	}
	if filter.Closed != nil {
		query += ` AND closed = ?`
		args = append(args, boolToInt(*filter.Closed))
	}
	if filter.Keyword != "" {
		query += ` AND messages LIKE ?`
		args = append(args, "%"+filter.Keyword+"%")
	}

	if filter.SortDesc {
		query += ` ORDER BY created_at DESC, id DESC`
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}

	return s.query(ctx, query, args...)
}

// Close marks a conversation closed.
func (s *SQLiteStore) Close(ctx context.Context, id int64, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET closed = 1, updated_at = ?, ended_at = ? WHERE id = ?`,
		endedAt.Unix(), endedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// Delete removes a conversation.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ListIdleOpen returns open conversations not touched since cutoff.
func (s *SQLiteStore) ListIdleOpen(ctx context.Context, cutoff time.Time) ([]Conversation, error) {
	return s.query(ctx,
		selectColumns+` WHERE closed = 0 AND updated_at < ? ORDER BY updated_at ASC`,
		cutoff.Unix())
}

// CountOpen returns the number of open conversations across agents.
func (s *SQLiteStore) CountOpen(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE closed = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open conversations: %w", err)
	}
	return count, nil
}

const selectColumns = `SELECT id, agent_id, messages, closed, created_at, updated_at, ended_at FROM conversations`

func (s *SQLiteStore) query(ctx context.Context, query string, args ...interface{}) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

func scanConversation(scan func(...interface{}) error) (*Conversation, error) {
	var conv Conversation
	var payload string
	var closed int
	var createdAt, updatedAt int64
	var endedAt sql.NullInt64

	if err := scan(&conv.ID, &conv.AgentID, &payload, &closed, &createdAt, &updatedAt, &endedAt); err != nil {
		return nil, err
	}

	conv.Closed = closed != 0
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		conv.EndedAt = &t
	}
	conv.Messages = normalizeMessages(conv.ID, payload)

	return &conv, nil
}

// normalizeMessages decodes a stored payload, substituting an empty
// sequence for anything that is not a message array so one corrupt row
// cannot wedge an agent's session.
func normalizeMessages(id int64, payload string) []Message {
	if payload == "" {
		return []Message{}
	}

	var messages []Message
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		log.Warn().
			Int64("conversationId", id).
			Err(err).
			Msg("Conversation payload is not a message array, resetting")
		return []Message{}
	}
	if messages == nil {
		return []Message{}
	}
	return messages
}

func nullableUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
