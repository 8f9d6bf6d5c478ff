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

// Open opens (and creates if needed) the delivery log database at path and
// ensures required tables exist. The path must be on a local filesystem;
// SQLite locking is unreliable over NFS and SMB mounts.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if err := validateFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS deliveries (
  id            TEXT PRIMARY KEY,
  project_id    TEXT NOT NULL,
  event         TEXT NOT NULL,
  repository    TEXT,
  ref           TEXT,
  pusher        TEXT,
  status        TEXT NOT NULL,
  message       TEXT,
  actions_total INTEGER NOT NULL DEFAULT 0,
  actions_ok    INTEGER NOT NULL DEFAULT 0,
  received_at   TEXT NOT NULL,
  finished_at   TEXT NOT NULL,
  duration_ms   INTEGER NOT NULL DEFAULT 0,
  remote_addr   TEXT
);`,
		`CREATE TABLE IF NOT EXISTS delivery_actions (
  delivery_id TEXT NOT NULL REFERENCES deliveries(id) ON DELETE CASCADE,
  seq         INTEGER NOT NULL,
  action_type TEXT NOT NULL,
  command     TEXT,
  status      TEXT NOT NULL,
  exit_code   INTEGER NOT NULL DEFAULT 0,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  stderr_tail TEXT,
  PRIMARY KEY (delivery_id, seq)
);`,
		`CREATE INDEX IF NOT EXISTS deliveries_received_at_idx ON deliveries(received_at);`,
		`CREATE INDEX IF NOT EXISTS deliveries_project_received_at_idx ON deliveries(project_id, received_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap history db: %w", err)
		}
	}
	return nil
}
