// Package store is the sqlite-backed persistence layer: projects, sessions,
// messages, custom agents, and schedules. It is the only shared mutable
// resource crossing session boundaries; sqlite serializes writes per
// statement, which is all the per-entity ordering the runtime needs.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeFormat is the timestamp format used for all sqlite datetime
// values. Stored in UTC.
const sqliteTimeFormat = "2006-01-02 15:04:05"

// Store wraps the sqlite database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates or opens the database at the given path, creating parent
// directories and the schema as needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL for concurrent readers while a session run is appending.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// OpenInMemory opens a private in-memory database, used by tests.
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps the in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, dbPath: ":memory:"}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DBPath returns the path of the database file.
func (s *Store) DBPath() string { return s.dbPath }

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		path       TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		project_id    TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		agent         TEXT NOT NULL,
		parent_id     TEXT REFERENCES sessions(id),
		status        TEXT NOT NULL DEFAULT 'idle',
		title         TEXT NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd      REAL NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL,
		updated_at    DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_parent ON sessions(parent_id);

	CREATE TABLE IF NOT EXISTS messages (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role          TEXT NOT NULL,
		content       TEXT NOT NULL DEFAULT '',
		tool_calls    TEXT NOT NULL DEFAULT '',
		tool_call_id  TEXT NOT NULL DEFAULT '',
		error_type    TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		seq           INTEGER NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS agents (
		project_id    TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		mode          TEXT NOT NULL DEFAULT 'all',
		hidden        INTEGER NOT NULL DEFAULT 0,
		provider      TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		temperature   REAL,
		top_p         REAL,
		max_steps     INTEGER NOT NULL DEFAULT 0,
		system_prompt TEXT NOT NULL DEFAULT '',
		tools         TEXT NOT NULL DEFAULT '',
		created_at    DATETIME NOT NULL,
		PRIMARY KEY (project_id, name)
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id         TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		agent      TEXT NOT NULL DEFAULT 'default',
		cron_expr  TEXT NOT NULL,
		prompt     TEXT NOT NULL,
		enabled    INTEGER NOT NULL DEFAULT 1,
		last_run   DATETIME,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_project ON schedules(project_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func now() string {
	return time.Now().UTC().Format(sqliteTimeFormat)
}

// parseTime parses a stored timestamp, trying the sqlite format then RFC3339.
func parseTime(s string) time.Time {
	if t, err := time.Parse(sqliteTimeFormat, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
