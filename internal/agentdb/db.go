// Package agentdb is the Agent process's SQLite-backed persistence
// layer: local shares and inbox chunked-upload staging records, grounded
// on coordinatordb's method-per-entity shape (itself grounded on the
// teacher's internal/database/supabase.go) targeting the same SQLite/WAL
// store spec.md §9 prescribes for both processes.
package agentdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup or update affects zero rows.
var ErrNotFound = errors.New("agentdb: not found")

// DB wraps the agent's SQLite connection pool.
type DB struct {
	conn *sql.DB
}

// Open opens dsn (a filesystem path, or ":memory:" for tests), applies
// the same pragmas as coordinatordb.Open, and runs the schema migration.
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_busy_timeout=30000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open agent db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	d := &DB{conn: conn}
	if err := d.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate agent db: %w", err)
	}
	return d, nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS local_shares (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	root_path TEXT NOT NULL,
	read_only INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS inbox_items (
	id TEXT PRIMARY KEY,
	transfer_id TEXT NOT NULL,
	item_id TEXT NOT NULL,
	share_id TEXT NOT NULL REFERENCES local_shares(id),
	filename TEXT NOT NULL,
	expected_size INTEGER NOT NULL,
	expected_sha256 TEXT NOT NULL,
	received_size INTEGER NOT NULL DEFAULT 0,
	part_path TEXT NOT NULL,
	inbox_path TEXT,
	state TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_inbox_items_transfer ON inbox_items(transfer_id);
`

func (d *DB) migrate(ctx context.Context) error {
	_, err := d.conn.ExecContext(ctx, schema)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
