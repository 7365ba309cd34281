// Package history journals install, uninstall and config operations in a
// local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Operation string

const (
	OpInstall      Operation = "install"
	OpUninstall    Operation = "uninstall"
	OpConfigure    Operation = "configure"
	OpUnconfigure  Operation = "unconfigure"
	OpContainer    Operation = "container"
	OpCatalogWrite Operation = "catalog"
)

type Entry struct {
	ID        int64         `json:"id"`
	AttemptID string        `json:"attempt_id,omitempty"`
	Operation Operation     `json:"operation"`
	Server    string        `json:"server"`
	Kind      string        `json:"kind,omitempty"`
	Path      string        `json:"path,omitempty"`
	Target    string        `json:"target,omitempty"`
	Outcome   string        `json:"outcome"`
	Detail    string        `json:"detail,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

// Store is the SQLite journal.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time; the TUI and web server share the handle.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operations (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id  TEXT NOT NULL DEFAULT '',
		operation   TEXT NOT NULL,
		server      TEXT NOT NULL,
		kind        TEXT NOT NULL DEFAULT '',
		path        TEXT NOT NULL DEFAULT '',
		target      TEXT NOT NULL DEFAULT '',
		outcome     TEXT NOT NULL,
		detail      TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		at_ms       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_operations_server ON operations(server);
	CREATE INDEX IF NOT EXISTS idx_operations_at ON operations(at_ms);

	CREATE TABLE IF NOT EXISTS servers (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		path         TEXT NOT NULL DEFAULT '',
		command      TEXT NOT NULL,
		args         TEXT NOT NULL DEFAULT '[]',
		env          TEXT NOT NULL DEFAULT '{}',
		installed_ms INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends e. A zero At is set to now.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (attempt_id, operation, server, kind, path, target, outcome, detail, duration_ms, at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AttemptID, string(e.Operation), e.Server, e.Kind, e.Path, e.Target, e.Outcome, e.Detail,
		e.Duration.Milliseconds(), e.At.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	return s.query(ctx, `SELECT id, attempt_id, operation, server, kind, path, target, outcome, detail, duration_ms, at_ms
		FROM operations ORDER BY at_ms DESC, id DESC LIMIT ?`, n)
}

// ForServer returns up to n entries for one server, newest first.
func (s *Store) ForServer(ctx context.Context, server string, n int) ([]Entry, error) {
	return s.query(ctx, `SELECT id, attempt_id, operation, server, kind, path, target, outcome, detail, duration_ms, at_ms
		FROM operations WHERE server = ? ORDER BY at_ms DESC, id DESC LIMIT ?`, server, n)
}

// Prune deletes entries older than cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e           Entry
			op          string
			durMS, atMS int64
		)
		if err := rows.Scan(&e.ID, &e.AttemptID, &op, &e.Server, &e.Kind, &e.Path, &e.Target, &e.Outcome, &e.Detail, &durMS, &atMS); err != nil {
			return nil, err
		}
		e.Operation = Operation(op)
		e.Duration = time.Duration(durMS) * time.Millisecond
		e.At = time.UnixMilli(atMS)
		out = append(out, e)
	}
	return out, rows.Err()
}
