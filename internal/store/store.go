// Package store persists bridge progress in an embedded SQLite database.
//
// Two things are journaled: the sync cursor (highest fully processed L1
// height) and abandoned tasks (retry budget exhausted). The cursor is a
// hint, not a source of truth; on restart the bridge re-derives its start
// height with a safety window, so losing this file only costs reprocessing,
// which the apply path tolerates by being idempotent.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the journal database connection.
type Store struct {
	conn *sql.DB
	path string
}

// AbandonedTask is one journaled abandonment.
type AbandonedTask struct {
	TaskID       string
	Kind         string
	DomainKey    string
	SourceHeight uint64
	Retries      int
	Reason       string
	AbandonedAt  time.Time
}

// Open creates or opens the journal database at path.
//
// The database uses WAL mode so stats readers never block the bridge's
// writes. The caller must Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates the journal tables. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_cursor (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		height INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS abandoned_tasks (
		task_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		domain_key TEXT NOT NULL,
		source_height INTEGER NOT NULL,
		retries INTEGER NOT NULL,
		reason TEXT NOT NULL,
		abandoned_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_abandoned_domain ON abandoned_tasks(domain_key);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// SaveCursor records the highest fully processed L1 height.
func (s *Store) SaveCursor(ctx context.Context, height uint64) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_cursor (id, height, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET height = excluded.height, updated_at = excluded.updated_at`,
		int64(height), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// LoadCursor returns the persisted cursor height. ok is false when no cursor
// has ever been saved.
func (s *Store) LoadCursor(ctx context.Context) (height uint64, ok bool, err error) {
	var h int64
	err = s.conn.QueryRowContext(ctx, `SELECT height FROM sync_cursor WHERE id = 1`).Scan(&h)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load cursor: %w", err)
	}
	return uint64(h), true, nil
}

// RecordAbandoned journals a task whose retry budget ran out.
func (s *Store) RecordAbandoned(ctx context.Context, t AbandonedTask) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO abandoned_tasks
			(task_id, kind, domain_key, source_height, retries, reason, abandoned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.Kind, t.DomainKey, int64(t.SourceHeight), t.Retries, t.Reason,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record abandoned task: %w", err)
	}
	return nil
}

// ListAbandoned returns journaled abandonments, newest first, up to limit.
// A limit of 0 means no limit.
func (s *Store) ListAbandoned(ctx context.Context, limit int) ([]AbandonedTask, error) {
	q := `SELECT task_id, kind, domain_key, source_height, retries, reason, abandoned_at
		FROM abandoned_tasks ORDER BY abandoned_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list abandoned tasks: %w", err)
	}
	defer rows.Close()

	var out []AbandonedTask
	for rows.Next() {
		var t AbandonedTask
		var height int64
		var at string
		if err := rows.Scan(&t.TaskID, &t.Kind, &t.DomainKey, &height, &t.Retries, &t.Reason, &at); err != nil {
			return nil, fmt.Errorf("failed to scan abandoned task: %w", err)
		}
		t.SourceHeight = uint64(height)
		t.AbandonedAt, _ = time.Parse(time.RFC3339, at)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint journal WAL: %v\n", err)
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close journal database: %w", err)
	}
	return nil
}
