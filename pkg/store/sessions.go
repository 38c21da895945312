package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session status values.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusError   = "error"
)

// Session is one persisted conversation thread. ParentID is set only for
// sessions spawned as sub-agent tasks.
type Session struct {
	ID           string
	ProjectID    string
	Agent        string
	ParentID     string
	Status       string
	Title        string
	SystemPrompt string
	MessageCount int
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewSessionParams are the caller-supplied fields of a new session.
type NewSessionParams struct {
	ProjectID    string
	Agent        string
	ParentID     string
	Title        string
	SystemPrompt string
}

// CreateSession inserts a new session and returns it.
func (s *Store) CreateSession(ctx context.Context, p NewSessionParams) (*Session, error) {
	if p.Agent == "" {
		p.Agent = "default"
	}
	sess := &Session{
		ID:           uuid.NewString(),
		ProjectID:    p.ProjectID,
		Agent:        p.Agent,
		ParentID:     p.ParentID,
		Status:       StatusIdle,
		Title:        p.Title,
		SystemPrompt: p.SystemPrompt,
	}
	ts := now()
	var parent interface{}
	if p.ParentID != "" {
		parent = p.ParentID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, agent, parent_id, status, title, system_prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.ProjectID, sess.Agent, parent, sess.Status, sess.Title, sess.SystemPrompt, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess.CreatedAt = parseTime(ts)
	sess.UpdatedAt = sess.CreatedAt
	return sess, nil
}

func scanSession(row interface{ Scan(...interface{}) error }) (*Session, error) {
	var sess Session
	var parent sql.NullString
	var created, updated string
	err := row.Scan(&sess.ID, &sess.ProjectID, &sess.Agent, &parent, &sess.Status,
		&sess.Title, &sess.SystemPrompt, &sess.MessageCount,
		&sess.InputTokens, &sess.OutputTokens, &sess.CostUSD, &created, &updated)
	if err != nil {
		return nil, err
	}
	sess.ParentID = parent.String
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

const sessionColumns = `id, project_id, agent, parent_id, status, title, system_prompt,
	message_count, input_tokens, output_tokens, cost_usd, created_at, updated_at`

// GetSession returns a session by id, or nil when it does not exist.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns a project's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, projectID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE project_id = ? ORDER BY updated_at DESC LIMIT ?`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ListChildSessions returns the sub-agent sessions spawned from a parent.
func (s *Store) ListChildSessions(ctx context.Context, parentID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE parent_id = ? ORDER BY created_at ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SetSessionStatus updates a session's status.
func (s *Store) SetSessionStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`, status, now(), id)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	return nil
}

// AddSessionUsage folds a finished run's counters into the session.
func (s *Store) AddSessionUsage(ctx context.Context, id string, messages int, inputTokens, outputTokens int64, costUSD float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			message_count = message_count + ?,
			input_tokens  = input_tokens + ?,
			output_tokens = output_tokens + ?,
			cost_usd      = cost_usd + ?,
			updated_at    = ?
		WHERE id = ?
	`, messages, inputTokens, outputTokens, costUSD, now(), id)
	if err != nil {
		return fmt.Errorf("add session usage: %w", err)
	}
	return nil
}
