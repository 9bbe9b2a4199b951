// Package knowledge is the orchestrator's long-term memory. It stores
// learnings, error patterns, permanent-failure signatures, human
// guidance, and task-to-file correlations in an embedded SQLite
// database under the state directory.
package knowledge

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the knowledge database.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens (and migrates) the knowledge database at the given path,
// creating parent directories as needed. WAL mode is enabled for
// concurrent readers.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// migrate applies pending schema migrations.
func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Learnings},
		{2, migrationV2ErrorPatterns},
		{3, migrationV3FailureSignatures},
		{4, migrationV4Guidance},
		{5, migrationV5TaskFiles},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Learnings = `
CREATE TABLE IF NOT EXISTS learnings (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	content TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	used_count INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_learnings_topic ON learnings(topic);
`

const migrationV2ErrorPatterns = `
CREATE TABLE IF NOT EXISTS error_patterns (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	pattern TEXT NOT NULL,
	fix TEXT NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	UNIQUE(category, pattern)
);

CREATE INDEX IF NOT EXISTS idx_error_patterns_category ON error_patterns(category);
`

const migrationV3FailureSignatures = `
CREATE TABLE IF NOT EXISTS failure_signatures (
	signature TEXT NOT NULL,
	task_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (signature, task_id)
);
`

const migrationV4Guidance = `
CREATE TABLE IF NOT EXISTS guidance (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);
`

const migrationV5TaskFiles = `
CREATE TABLE IF NOT EXISTS task_files (
	task_id TEXT NOT NULL,
	objective TEXT NOT NULL,
	file TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (task_id, file)
);

CREATE INDEX IF NOT EXISTS idx_task_files_file ON task_files(file);
`

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
