package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ericvicenti/botical-sub003/pkg/agent"
)

// toolListSeparator joins an agent's ordered tool list into one column.
const toolListSeparator = ","

// PutAgent inserts or replaces a project-defined agent. Reserved built-in
// names are rejected here, at the creation path, so lookup never has to
// disambiguate.
func (s *Store) PutAgent(ctx context.Context, projectID string, cfg *agent.Config) error {
	if agent.IsReservedName(cfg.Name) {
		return fmt.Errorf("agent name %q is reserved for a built-in agent", cfg.Name)
	}
	if cfg.Name == "" {
		return fmt.Errorf("agent name must not be empty")
	}

	mode := cfg.Mode
	if mode == "" {
		mode = agent.ModeAll
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (project_id, name, description, mode, hidden, provider, model,
			temperature, top_p, max_steps, system_prompt, tools, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, name) DO UPDATE SET
			description = excluded.description,
			mode = excluded.mode,
			hidden = excluded.hidden,
			provider = excluded.provider,
			model = excluded.model,
			temperature = excluded.temperature,
			top_p = excluded.top_p,
			max_steps = excluded.max_steps,
			system_prompt = excluded.system_prompt,
			tools = excluded.tools
	`, projectID, cfg.Name, cfg.Description, string(mode), cfg.Hidden, cfg.Provider, cfg.Model,
		nullableFloat(cfg.Temperature), nullableFloat(cfg.TopP), cfg.MaxSteps, cfg.SystemPrompt,
		strings.Join(cfg.Tools, toolListSeparator), now())
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

// GetAgent returns a project-defined agent, or nil. Implements agent.Store.
func (s *Store) GetAgent(ctx context.Context, projectID, name string) (*agent.Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, description, mode, hidden, provider, model, temperature, top_p,
			max_steps, system_prompt, tools
		FROM agents WHERE project_id = ? AND name = ?
	`, projectID, name)
	cfg, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return cfg, nil
}

// ListAgents returns a project's custom agents. Implements agent.Store.
func (s *Store) ListAgents(ctx context.Context, projectID string) ([]*agent.Config, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, mode, hidden, provider, model, temperature, top_p,
			max_steps, system_prompt, tools
		FROM agents WHERE project_id = ? ORDER BY name ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*agent.Config
	for rows.Next() {
		cfg, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// DeleteAgent removes a project-defined agent. Returns true when a row was
// deleted.
func (s *Store) DeleteAgent(ctx context.Context, projectID, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM agents WHERE project_id = ? AND name = ?`, projectID, name)
	if err != nil {
		return false, fmt.Errorf("delete agent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanAgent(row interface{ Scan(...interface{}) error }) (*agent.Config, error) {
	var cfg agent.Config
	var mode, tools string
	var temperature, topP sql.NullFloat64
	err := row.Scan(&cfg.Name, &cfg.Description, &mode, &cfg.Hidden, &cfg.Provider, &cfg.Model,
		&temperature, &topP, &cfg.MaxSteps, &cfg.SystemPrompt, &tools)
	if err != nil {
		return nil, err
	}
	cfg.Mode = agent.Mode(mode)
	if temperature.Valid {
		v := temperature.Float64
		cfg.Temperature = &v
	}
	if topP.Valid {
		v := topP.Float64
		cfg.TopP = &v
	}
	if tools != "" {
		cfg.Tools = strings.Split(tools, toolListSeparator)
	}
	return &cfg, nil
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
