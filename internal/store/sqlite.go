package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. An empty path uses
// an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			game_type TEXT NOT NULL DEFAULT 'hytale',
			executable_path TEXT NOT NULL DEFAULT '',
			working_dir TEXT NOT NULL,
			java_path TEXT NOT NULL DEFAULT '',
			min_memory TEXT NOT NULL DEFAULT '',
			max_memory TEXT NOT NULL DEFAULT '',
			extra_args TEXT NOT NULL DEFAULT '',
			port INTEGER NOT NULL DEFAULT 0,
			bind_address TEXT NOT NULL DEFAULT '',
			max_players INTEGER NOT NULL DEFAULT 100,
			webhook_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			task_type TEXT NOT NULL,
			action TEXT NOT NULL,
			time TEXT NOT NULL DEFAULT '',
			cron_expression TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			delete_after INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS backups (
			id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertServer(ctx context.Context, srv Server) error {
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO servers
		(id, name, game_type, executable_path, working_dir, java_path, min_memory, max_memory, extra_args, port, bind_address, max_players, webhook_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		name=excluded.name, game_type=excluded.game_type, executable_path=excluded.executable_path,
		working_dir=excluded.working_dir, java_path=excluded.java_path, min_memory=excluded.min_memory,
		max_memory=excluded.max_memory, extra_args=excluded.extra_args, port=excluded.port,
		bind_address=excluded.bind_address, max_players=excluded.max_players, webhook_url=excluded.webhook_url`,
		srv.ID, srv.Name, srv.GameType, srv.ExecutablePath, srv.WorkingDir, srv.JavaPath,
		srv.MinMemory, srv.MaxMemory, srv.ExtraArgs, srv.Port, srv.BindAddress, srv.MaxPlayers,
		srv.WebhookURL, srv.CreatedAt)
	return err
}

func (s *SQLiteStore) GetServer(ctx context.Context, id string) (Server, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, game_type, executable_path, working_dir,
		java_path, min_memory, max_memory, extra_args, port, bind_address, max_players, webhook_url, created_at
		FROM servers WHERE id = ?`, id)
	return scanServer(row, id)
}

func (s *SQLiteStore) ListServers(ctx context.Context) ([]Server, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, game_type, executable_path, working_dir,
		java_path, min_memory, max_memory, extra_args, port, bind_address, max_players, webhook_url, created_at
		FROM servers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Server
	for rows.Next() {
		srv, err := scanServer(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteServer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) SetExecutablePath(ctx context.Context, id, path string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE servers SET executable_path = ? WHERE id = ?`, path, id)
	return err
}

func (s *SQLiteStore) AddSchedule(ctx context.Context, sc Schedule) error {
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO schedules
		(id, server_id, name, task_type, action, time, cron_expression, enabled, delete_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.ServerID, sc.Name, sc.TaskType, sc.Action, sc.Time, sc.CronExpr,
		boolToInt(sc.Enabled), boolToInt(sc.DeleteAfter), sc.CreatedAt)
	return err
}

func (s *SQLiteStore) ListSchedules(ctx context.Context, serverID string) ([]Schedule, error) {
	return s.querySchedules(ctx, `SELECT id, server_id, name, task_type, action, time, cron_expression,
		enabled, delete_after, created_at FROM schedules WHERE server_id = ? ORDER BY created_at DESC`, serverID)
}

func (s *SQLiteStore) EnabledSchedules(ctx context.Context) ([]Schedule, error) {
	return s.querySchedules(ctx, `SELECT id, server_id, name, task_type, action, time, cron_expression,
		enabled, delete_after, created_at FROM schedules WHERE enabled = 1`)
}

func (s *SQLiteStore) querySchedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Schedule
	for rows.Next() {
		var sc Schedule
		var enabled, deleteAfter int
		if err := rows.Scan(&sc.ID, &sc.ServerID, &sc.Name, &sc.TaskType, &sc.Action, &sc.Time,
			&sc.CronExpr, &enabled, &deleteAfter, &sc.CreatedAt); err != nil {
			return nil, err
		}
		sc.Enabled = enabled != 0
		sc.DeleteAfter = deleteAfter != 0
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE schedules SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	return err
}

func (s *SQLiteStore) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) AddBackup(ctx context.Context, b Backup) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO backups (id, server_id, filename, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?)`, b.ID, b.ServerID, b.Filename, b.SizeBytes, b.CreatedAt)
	return err
}

func (s *SQLiteStore) ListBackups(ctx context.Context, serverID string) ([]Backup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, server_id, filename, size_bytes, created_at
		FROM backups WHERE server_id = ? ORDER BY created_at DESC`, serverID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Backup
	for rows.Next() {
		var b Backup
		if err := rows.Scan(&b.ID, &b.ServerID, &b.Filename, &b.SizeBytes, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanServer(r rowScanner, id string) (Server, error) {
	var srv Server
	err := r.Scan(&srv.ID, &srv.Name, &srv.GameType, &srv.ExecutablePath, &srv.WorkingDir,
		&srv.JavaPath, &srv.MinMemory, &srv.MaxMemory, &srv.ExtraArgs, &srv.Port,
		&srv.BindAddress, &srv.MaxPlayers, &srv.WebhookURL, &srv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Server{}, &NotFoundError{Kind: "server", ID: id}
	}
	return srv, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
