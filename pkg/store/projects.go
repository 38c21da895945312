package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Project is a registered workspace root.
type Project struct {
	ID        string
	Name      string
	Path      string
	CreatedAt time.Time
}

// CreateProject registers a workspace. The path is cleaned and made
// absolute; registering the same path twice returns the existing project.
func (s *Store) CreateProject(ctx context.Context, name, path string) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	abs = filepath.Clean(abs)

	if existing, err := s.GetProjectByPath(ctx, abs); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	p := &Project{ID: uuid.NewString(), Name: name, Path: abs}
	ts := now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, path, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Path, ts)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	p.CreatedAt = parseTime(ts)
	return p, nil
}

// GetProject returns a project by id, or nil.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	return s.scanProject(s.db.QueryRowContext(ctx,
		`SELECT id, name, path, created_at FROM projects WHERE id = ?`, id))
}

// GetProjectByPath returns a project by absolute path, or nil.
func (s *Store) GetProjectByPath(ctx context.Context, path string) (*Project, error) {
	return s.scanProject(s.db.QueryRowContext(ctx,
		`SELECT id, name, path, created_at FROM projects WHERE path = ?`, path))
}

func (s *Store) scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var created string
	err := row.Scan(&p.ID, &p.Name, &p.Path, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

// ListProjects returns all registered projects, name-sorted.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, created_at FROM projects ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		var p Project
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		out = append(out, &p)
	}
	return out, rows.Err()
}
