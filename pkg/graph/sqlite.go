package graph

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	seedStateName   = "State 1"
	seedStatePrompt = "How can I help you?"
	defaultModel    = "gpt-3.5-turbo"
)

// SQLiteStore implements Store on a shared SQLite handle.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and its schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		global_prompt TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT 'gpt-3.5-turbo',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS states (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id INTEGER NOT NULL REFERENCES agents(id),
		name TEXT NOT NULL,
		prompt TEXT NOT NULL,
		is_start INTEGER NOT NULL DEFAULT 0,
		is_end INTEGER NOT NULL DEFAULT 0,
		pos_x REAL NOT NULL DEFAULT 0,
		pos_y REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_states_agent ON states(agent_id);

	CREATE TABLE IF NOT EXISTS edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id INTEGER NOT NULL REFERENCES agents(id),
		from_state_id INTEGER NOT NULL,
		to_state_id INTEGER NOT NULL,
		condition TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_edges_agent ON edges(agent_id);
	CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_state_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// CreateAgent creates an agent and seeds its initial start state in one
// transaction.
func (s *SQLiteStore) CreateAgent(ctx context.Context, name, globalPrompt string) (*Agent, *State, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO agents (name, global_prompt, model, created_at) VALUES (?, ?, ?, ?)`,
		name, globalPrompt, defaultModel, now.Unix(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert agent: %w", err)
	}
	agentID, err := res.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("agent id: %w", err)
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO states (agent_id, name, prompt, is_start, is_end, pos_x, pos_y)
		 VALUES (?, ?, ?, 1, 0, 200, 200)`,
		agentID, seedStateName, seedStatePrompt,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert initial state: %w", err)
	}
	stateID, err := res.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("state id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	agent := &Agent{
		ID:           agentID,
		Name:         name,
		GlobalPrompt: globalPrompt,
		Model:        defaultModel,
		CreatedAt:    now,
	}
	state := &State{
		ID:       stateID,
		AgentID:  agentID,
		Name:     seedStateName,
		Prompt:   seedStatePrompt,
		IsStart:  true,
		Position: Position{X: 200, Y: 200},
	}

	log.Info().Int64("agentId", agentID).Str("name", name).Msg("Agent created")

	return agent, state, nil
}

// GetAgent retrieves an agent by id.
func (s *SQLiteStore) GetAgent(ctx context.Context, id int64) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, global_prompt, model, created_at FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// ListAgents returns all agents in creation order.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, global_prompt, model, created_at FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.Name, &a.GlobalPrompt, &a.Model, &createdAt); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		a.CreatedAt = time.Unix(createdAt, 0)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgent applies a partial update and returns the updated row.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, id int64, update AgentUpdate) (*Agent, error) {
	set := ""
	args := []interface{}{}
	appendField := func(column string, value interface{}) {
		if set != "" {
			set += ", "
		}
		set += column + " = ?"
		args = append(args, value)
	}

	if update.Name != nil {
		appendField("name", *update.Name)
	}
	if update.GlobalPrompt != nil {
		appendField("global_prompt", *update.GlobalPrompt)
	}
	if update.Model != nil {
		appendField("model", *update.Model)
	}
	if set == "" {
		return s.GetAgent(ctx, id)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrAgentNotFound
	}

	return s.GetAgent(ctx, id)
}

// CreateState creates a state, optionally with outgoing edges.
func (s *SQLiteStore) CreateState(ctx context.Context, state *State, transitions []EdgeInput) (*State, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if state.IsStart {
		if err := clearFlag(ctx, tx, state.AgentID, "is_start"); err != nil {
			return nil, err
		}
	}
	if state.IsEnd {
		if err := clearFlag(ctx, tx, state.AgentID, "is_end"); err != nil {
			return nil, err
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO states (agent_id, name, prompt, is_start, is_end, pos_x, pos_y)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		state.AgentID, state.Name, state.Prompt,
		boolToInt(state.IsStart), boolToInt(state.IsEnd),
		state.Position.X, state.Position.Y,
	)
	if err != nil {
		return nil, fmt.Errorf("insert state: %w", err)
	}
	stateID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("state id: %w", err)
	}

	for _, t := range transitions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO edges (agent_id, from_state_id, to_state_id, condition) VALUES (?, ?, ?, ?)`,
			state.AgentID, stateID, t.ToStateID, t.Condition,
		); err != nil {
			return nil, fmt.Errorf("insert edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	created := *state
	created.ID = stateID
	return &created, nil
}

// GetState retrieves a state by id.
func (s *SQLiteStore) GetState(ctx context.Context, id int64) (*State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, name, prompt, is_start, is_end, pos_x, pos_y
		 FROM states WHERE id = ?`, id)
	return scanState(row)
}

// ListStates returns an agent's states in creation order.
func (s *SQLiteStore) ListStates(ctx context.Context, agentID int64) ([]State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, name, prompt, is_start, is_end, pos_x, pos_y
		 FROM states WHERE agent_id = ? ORDER BY id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		var st State
		var isStart, isEnd int
		if err := rows.Scan(&st.ID, &st.AgentID, &st.Name, &st.Prompt, &isStart, &isEnd,
			&st.Position.X, &st.Position.Y); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		st.IsStart = isStart != 0
		st.IsEnd = isEnd != 0
		states = append(states, st)
	}
	return states, rows.Err()
}

// UpdateState applies a partial update, keeping the single-start and
// single-end invariants when a flag is raised.
func (s *SQLiteStore) UpdateState(ctx context.Context, id int64, update StateUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var agentID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT agent_id FROM states WHERE id = ?`, id).Scan(&agentID); err != nil {
		if err == sql.ErrNoRows {
			return ErrStateNotFound
		}
		return fmt.Errorf("load state: %w", err)
	}

	set := ""
	args := []interface{}{}
	appendField := func(column string, value interface{}) {
		if set != "" {
			set += ", "
		}
		set += column + " = ?"
		args = append(args, value)
	}

	if update.Name != nil {
		appendField("name", *update.Name)
	}
	if update.Prompt != nil {
		appendField("prompt", *update.Prompt)
	}
	if update.Position != nil {
		appendField("pos_x", update.Position.X)
		appendField("pos_y", update.Position.Y)
	}
	if update.IsStart != nil {
		if *update.IsStart {
			if err := clearFlag(ctx, tx, agentID, "is_start"); err != nil {
				return err
			}
		}
		appendField("is_start", boolToInt(*update.IsStart))
	}
	if update.IsEnd != nil {
		if *update.IsEnd {
			if err := clearFlag(ctx, tx, agentID, "is_end"); err != nil {
				return err
			}
		}
		appendField("is_end", boolToInt(*update.IsEnd))
	}

	if set != "" {
		args = append(args, id)
		if _, err := tx.ExecContext(ctx, `UPDATE states SET `+set+` WHERE id = ?`, args...); err != nil {
			return fmt.Errorf("update state: %w", err)
		}
	}

	return tx.Commit()
}

// UpdateStatePosition moves a state on the canvas.
func (s *SQLiteStore) UpdateStatePosition(ctx context.Context, id int64, pos Position) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE states SET pos_x = ?, pos_y = ? WHERE id = ?`, pos.X, pos.Y, id)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStateNotFound
	}
	return nil
}

// DeleteState deletes a state together with every edge referencing it.
func (s *SQLiteStore) DeleteState(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edges WHERE from_state_id = ? OR to_state_id = ?`, id, id); err != nil {
		return fmt.Errorf("delete edges: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM states WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrStateNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	log.Info().Int64("stateId", id).Msg("State deleted")
	return nil
}

// CreateEdge creates a single edge.
func (s *SQLiteStore) CreateEdge(ctx context.Context, edge *Edge) (*Edge, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO edges (agent_id, from_state_id, to_state_id, condition) VALUES (?, ?, ?, ?)`,
		edge.AgentID, edge.FromStateID, edge.ToStateID, edge.Condition)
	if err != nil {
		return nil, fmt.Errorf("insert edge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("edge id: %w", err)
	}

	created := *edge
	created.ID = id
	return &created, nil
}

// ListEdges returns all of an agent's edges in stored order.
func (s *SQLiteStore) ListEdges(ctx context.Context, agentID int64) ([]Edge, error) {
	return s.queryEdges(ctx,
		`SELECT id, agent_id, from_state_id, to_state_id, condition
		 FROM edges WHERE agent_id = ? ORDER BY id`, agentID)
}

// ListEdgesFrom returns a state's outgoing edges in stored order.
func (s *SQLiteStore) ListEdgesFrom(ctx context.Context, stateID int64) ([]Edge, error) {
	return s.queryEdges(ctx,
		`SELECT id, agent_id, from_state_id, to_state_id, condition
		 FROM edges WHERE from_state_id = ? ORDER BY id`, stateID)
}

// ReplaceEdgesFrom atomically replaces a state's outgoing edges.
func (s *SQLiteStore) ReplaceEdgesFrom(ctx context.Context, stateID, agentID int64, transitions []EdgeInput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edges WHERE from_state_id = ?`, stateID); err != nil {
		return fmt.Errorf("delete edges: %w", err)
	}

	for _, t := range transitions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO edges (agent_id, from_state_id, to_state_id, condition) VALUES (?, ?, ?, ?)`,
			agentID, stateID, t.ToStateID, t.Condition,
		); err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
	}

	return tx.Commit()
}

// StatesWithTransitions joins an agent's states with their materialized
// outgoing transitions.
func (s *SQLiteStore) StatesWithTransitions(ctx context.Context, agentID int64) ([]StateWithTransitions, error) {
	states, err := s.ListStates(ctx, agentID)
	if err != nil {
		return nil, err
	}
	edges, err := s.ListEdges(ctx, agentID)
	if err != nil {
		return nil, err
	}

	names := make(map[int64]string, len(states))
	for _, st := range states {
		names[st.ID] = st.Name
	}

	transitions := make(map[int64][]Transition)
	for _, e := range edges {
		if e.IsSelfLoop() {
			continue
		}

		name, ok := names[e.ToStateID]
		if !ok {
			name = "Unknown"
		}

		duplicate := false
		for _, t := range transitions[e.FromStateID] {
			if t.Condition == e.Condition && t.NextState == e.ToStateID {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}

		transitions[e.FromStateID] = append(transitions[e.FromStateID], Transition{
			Condition: e.Condition,
			NextState: e.ToStateID,
			Name:      name,
		})
	}

	result := make([]StateWithTransitions, 0, len(states))
	for _, st := range states {
		entry := StateWithTransitions{State: st, Transitions: transitions[st.ID]}
		if entry.Transitions == nil {
			entry.Transitions = []Transition{}
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *SQLiteStore) queryEdges(ctx context.Context, query string, args ...interface{}) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.AgentID, &e.FromStateID, &e.ToStateID, &e.Condition); err != nil {
			return nil, fmt.Errorf("scan edge row: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func clearFlag(ctx context.Context, tx *sql.Tx, agentID int64, column string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE states SET `+column+` = 0 WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("clear %s: %w", column, err)
	}
	return nil
}

func scanAgent(row *sql.Row) (*Agent, error) {
	var a Agent
	var createdAt int64
	err := row.Scan(&a.ID, &a.Name, &a.GlobalPrompt, &a.Model, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

func scanState(row *sql.Row) (*State, error) {
	var st State
	var isStart, isEnd int
	err := row.Scan(&st.ID, &st.AgentID, &st.Name, &st.Prompt, &isStart, &isEnd,
		&st.Position.X, &st.Position.Y)
	if err == sql.ErrNoRows {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan state row: %w", err)
	}
	st.IsStart = isStart != 0
	st.IsEnd = isEnd != 0
	return &st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
