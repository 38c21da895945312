package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schedule is a recurring agent run: a cron expression plus the prompt to
// synthesize when it fires.
type Schedule struct {
	ID        string
	ProjectID string
	Agent     string
	CronExpr  string
	Prompt    string
	Enabled   bool
	LastRun   *time.Time
	CreatedAt time.Time
}

// CreateSchedule inserts a schedule.
func (s *Store) CreateSchedule(ctx context.Context, sched *Schedule) (*Schedule, error) {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	if sched.Agent == "" {
		sched.Agent = "default"
	}
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, project_id, agent, cron_expr, prompt, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sched.ID, sched.ProjectID, sched.Agent, sched.CronExpr, sched.Prompt, sched.Enabled, ts)
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	sched.CreatedAt = parseTime(ts)
	return sched, nil
}

// ListEnabledSchedules returns every enabled schedule across all projects.
func (s *Store) ListEnabledSchedules(ctx context.Context) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, agent, cron_expr, prompt, enabled, last_run, created_at
		FROM schedules WHERE enabled = 1 ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// GetSchedule returns a schedule by id, or nil.
func (s *Store) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, agent, cron_expr, prompt, enabled, last_run, created_at
		FROM schedules WHERE id = ?
	`, id)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

// MarkScheduleRun records that a schedule fired.
func (s *Store) MarkScheduleRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run = ? WHERE id = ?`,
		at.UTC().Format(sqliteTimeFormat), id)
	if err != nil {
		return fmt.Errorf("mark schedule run: %w", err)
	}
	return nil
}

// SetScheduleEnabled toggles a schedule.
func (s *Store) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("set schedule enabled: %w", err)
	}
	return nil
}

func scanSchedule(row interface{ Scan(...interface{}) error }) (*Schedule, error) {
	var sched Schedule
	var lastRun sql.NullString
	var created string
	err := row.Scan(&sched.ID, &sched.ProjectID, &sched.Agent, &sched.CronExpr,
		&sched.Prompt, &sched.Enabled, &lastRun, &created)
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t := parseTime(lastRun.String)
		sched.LastRun = &t
	}
	sched.CreatedAt = parseTime(created)
	return &sched, nil
}
