package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotInstalled is returned by Server for an unknown id.
var ErrNotInstalled = errors.New("server not installed")

// Installed is the launch command recorded for a successfully installed server.
type Installed struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Path        string            `json:"path"`
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env,omitempty"`
	InstalledAt time.Time         `json:"installed_at"`
}

// SaveServer inserts or replaces the record for s.ID.
func (s *Store) SaveServer(ctx context.Context, srv Installed) error {
	if srv.InstalledAt.IsZero() {
		srv.InstalledAt = time.Now()
	}
	args, err := json.Marshal(srv.Args)
	if err != nil {
		return err
	}
	env, err := json.Marshal(srv.Env)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO servers (id, kind, path, command, args, env, installed_ms) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, path = excluded.path, command = excluded.command,
		 args = excluded.args, env = excluded.env, installed_ms = excluded.installed_ms`,
		srv.ID, srv.Kind, srv.Path, srv.Command, string(args), string(env), srv.InstalledAt.UnixMilli(),
	)
	return err
}

func (s *Store) Server(ctx context.Context, id string) (Installed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, path, command, args, env, installed_ms FROM servers WHERE id = ?`, id)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Installed{}, fmt.Errorf("%w: %s", ErrNotInstalled, id)
	}
	return srv, err
}

// Servers lists every installed server ordered by id.
func (s *Store) Servers(ctx context.Context) ([]Installed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, path, command, args, env, installed_ms FROM servers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Installed
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

// DeleteServer removes the record and reports whether one existed.
func (s *Store) DeleteServer(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanServer(sc scanner) (Installed, error) {
	var (
		srv       Installed
		args, env string
		ms        int64
	)
	if err := sc.Scan(&srv.ID, &srv.Kind, &srv.Path, &srv.Command, &args, &env, &ms); err != nil {
		return Installed{}, err
	}
	if err := json.Unmarshal([]byte(args), &srv.Args); err != nil {
		return Installed{}, fmt.Errorf("server %s args: %w", srv.ID, err)
	}
	if err := json.Unmarshal([]byte(env), &srv.Env); err != nil {
		return Installed{}, fmt.Errorf("server %s env: %w", srv.ID, err)
	}
	srv.InstalledAt = time.UnixMilli(ms)
	return srv, nil
}
