package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one persisted conversation entry. ToolCalls holds the raw JSON
// of an assistant message's tool calls; ToolCallID links a tool result back
// to the call that produced it.
type Message struct {
	ID           string
	SessionID    string
	Role         string
	Content      string
	ToolCalls    string
	ToolCallID   string
	ErrorType    string
	ErrorMessage string
	InputTokens  int64
	OutputTokens int64
	Seq          int
	CreatedAt    time.Time
}

// AppendMessage appends a message to a session, assigning the next sequence
// number. The insert and the sequence read happen in one transaction so
// concurrent appends to different sessions cannot interleave a session's
// ordering.
func (s *Store) AppendMessage(ctx context.Context, m *Message) (*Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, m.SessionID,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next message seq: %w", err)
	}
	m.Seq = seq

	ts := now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, tool_calls, tool_call_id,
			error_type, error_message, input_tokens, output_tokens, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.SessionID, m.Role, m.Content, m.ToolCalls, m.ToolCallID,
		m.ErrorType, m.ErrorMessage, m.InputTokens, m.OutputTokens, m.Seq, ts)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	m.CreatedAt = parseTime(ts)
	return m, nil
}

// ListMessages returns a session's messages in append order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_calls, tool_call_id,
			error_type, error_message, input_tokens, output_tokens, seq, created_at
		FROM messages WHERE session_id = ? ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var created string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ToolCalls, &m.ToolCallID,
			&m.ErrorType, &m.ErrorMessage, &m.InputTokens, &m.OutputTokens, &m.Seq, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(created)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// MarkMessageErrored records a failure on an in-flight assistant message so
// the session stays inspectable after a provider failure.
func (s *Store) MarkMessageErrored(ctx context.Context, id, errorType, errorMessage string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET error_type = ?, error_message = ? WHERE id = ?`,
		errorType, errorMessage, id)
	if err != nil {
		return fmt.Errorf("mark message errored: %w", err)
	}
	return nil
}
