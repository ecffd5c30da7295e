// Package history persists a record of every engine run and the actions it
// took, so operators can ask "what did the last install actually do to
// this disk."
//
// A New/migrate/Close lifecycle over modernc.org/sqlite (pure-Go, no cgo),
// with a schema_version-table migration gate and typed Record*/Get* method
// pairs. Each run also gets a google/uuid identifier so it can be
// cross-referenced against external reports.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultPath is where history lives when the caller doesn't override it.
const DefaultPath = "/var/lib/curtin-storage/history.db"

// Store wraps the SQLite connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the history database at path, running migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: configure database: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.conn.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) migrate() error {
	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}

	var version int
	if err := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return err
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_uuid TEXT NOT NULL,
			config_path TEXT,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			finished_at TIMESTAMP,
			outcome TEXT
		);
		CREATE TABLE IF NOT EXISTS actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES runs(id),
			entry_id TEXT NOT NULL,
			entry_type TEXT NOT NULL,
			device_path TEXT,
			outcome TEXT NOT NULL,
			detail TEXT,
			occurred_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
	}

	for i := version; i < len(migrations); i++ {
		if _, err := s.conn.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.conn.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return err
		}
	}
	return nil
}

// StartRun inserts a new run row, tagged with a fresh UUID so a run can be
// correlated with CURTIN_REPORT_STACK_PREFIX-style external reporting, and
// returns the row id used by RecordAction/FinishRun.
func (s *Store) StartRun(configPath string) (int64, error) {
	res, err := s.conn.Exec("INSERT INTO runs (run_uuid, config_path) VALUES (?, ?)", uuid.NewString(), configPath)
	if err != nil {
		return 0, fmt.Errorf("history: start run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun marks a run complete with its final outcome ("success",
// "execution-failure", "verification-failure", "config-error").
func (s *Store) FinishRun(runID int64, outcome string) error {
	_, err := s.conn.Exec(
		"UPDATE runs SET finished_at = ?, outcome = ? WHERE id = ?",
		time.Now().UTC(), outcome, runID,
	)
	if err != nil {
		return fmt.Errorf("history: finish run: %w", err)
	}
	return nil
}

// RecordAction logs one executed (or verified) action against a run.
func (s *Store) RecordAction(runID int64, entryID, entryType, devicePath, outcome, detail string) error {
	_, err := s.conn.Exec(`
		INSERT INTO actions (run_id, entry_id, entry_type, device_path, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, entryID, entryType, devicePath, outcome, detail)
	if err != nil {
		return fmt.Errorf("history: record action: %w", err)
	}
	return nil
}

// Run is one row of the runs table, returned by ListRuns.
type Run struct {
	ID         int64
	RunUUID    string
	ConfigPath string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Outcome    string
}

// ListRuns returns the most recent runs, newest first, limited to n rows.
func (s *Store) ListRuns(n int) ([]Run, error) {
	rows, err := s.conn.Query(`
		SELECT id, run_uuid, config_path, started_at, finished_at, outcome
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var configPath, outcome sql.NullString
		if err := rows.Scan(&r.ID, &r.RunUUID, &configPath, &r.StartedAt, &r.FinishedAt, &outcome); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.ConfigPath, r.Outcome = configPath.String, outcome.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Action is one row of the actions table, returned by queries.
type Action struct {
	ID         int64
	RunID      int64
	EntryID    string
	EntryType  string
	DevicePath string
	Outcome    string
	Detail     string
	OccurredAt time.Time
}

// ActionsForRun returns every action recorded against runID, oldest first.
func (s *Store) ActionsForRun(runID int64) ([]Action, error) {
	rows, err := s.conn.Query(`
		SELECT id, run_id, entry_id, entry_type, device_path, outcome, detail, occurred_at
		FROM actions WHERE run_id = ? ORDER BY occurred_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: query actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		var devicePath, detail sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.EntryID, &a.EntryType, &devicePath, &a.Outcome, &detail, &a.OccurredAt); err != nil {
			return nil, fmt.Errorf("history: scan action: %w", err)
		}
		a.DevicePath = devicePath.String
		a.Detail = detail.String
		out = append(out, a)
	}
	return out, rows.Err()
}
