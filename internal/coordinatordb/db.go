// Package coordinatordb is the coordinator's SQLite-backed persistence
// layer: plain database/sql CRUD methods per entity, grounded on the
// teacher's internal/database/supabase.go method-per-entity shape but
// targeting the reference store spec.md §9 prescribes (SQLite, WAL,
// foreign_keys=ON) instead of Supabase/Postgres.
package coordinatordb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the coordinator's SQLite connection pool.
type DB struct {
	conn *sql.DB
}

// Open opens dsn (a filesystem path, or ":memory:" for tests), applies the
// pragmas spec.md §5/§9 requires, and runs the schema migration.
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_busy_timeout=30000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open coordinator db: %w", err)
	}
	conn.SetMaxOpenConns(1) // sqlite3 driver: single writer avoids SQLITE_BUSY under WAL
	d := &DB{conn: conn}
	if err := d.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate coordinator db: %w", err)
	}
	return d, nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS principals (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	status TEXT NOT NULL,
	public_key TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS client_devices (
	id TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL REFERENCES principals(id),
	name TEXT NOT NULL,
	platform TEXT NOT NULL,
	device_secret_hash TEXT NOT NULL,
	status TEXT NOT NULL,
	last_seen TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_client_devices_principal ON client_devices(principal_id);

CREATE TABLE IF NOT EXISTS agent_devices (
	id TEXT PRIMARY KEY,
	owner_principal_id TEXT NOT NULL REFERENCES principals(id),
	name TEXT NOT NULL,
	base_url TEXT NOT NULL,
	visibility INTEGER NOT NULL DEFAULT 1,
	online_state INTEGER NOT NULL DEFAULT 0,
	last_seen TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_devices_owner ON agent_devices(owner_principal_id);

CREATE TABLE IF NOT EXISTS shares (
	id TEXT PRIMARY KEY,
	agent_device_id TEXT NOT NULL REFERENCES agent_devices(id),
	name TEXT NOT NULL,
	root_path TEXT NOT NULL,
	read_only INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shares_device ON shares(agent_device_id);

CREATE TABLE IF NOT EXISTS acl_grants (
	id TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL REFERENCES principals(id),
	share_id TEXT NOT NULL REFERENCES shares(id),
	permissions_raw TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(principal_id, share_id)
);

CREATE TABLE IF NOT EXISTS transfer_requests (
	id TEXT PRIMARY KEY,
	sender_principal_id TEXT NOT NULL REFERENCES principals(id),
	sender_client_device_id TEXT NOT NULL REFERENCES client_devices(id),
	receiver_device_id TEXT NOT NULL REFERENCES agent_devices(id),
	receiver_share_id TEXT NOT NULL REFERENCES shares(id),
	state TEXT NOT NULL,
	reason TEXT,
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfer_requests_state ON transfer_requests(state);
CREATE INDEX IF NOT EXISTS idx_transfer_requests_created ON transfer_requests(created_at);

CREATE TABLE IF NOT EXISTS transfer_items (
	id TEXT PRIMARY KEY,
	transfer_request_id TEXT NOT NULL REFERENCES transfer_requests(id),
	filename TEXT NOT NULL,
	size INTEGER NOT NULL,
	sha256 TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	state TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfer_items_transfer ON transfer_items(transfer_request_id);

CREATE TABLE IF NOT EXISTS passcode_windows (
	transfer_request_id TEXT PRIMARY KEY REFERENCES transfer_requests(id) ON DELETE CASCADE,
	passcode_hash TEXT NOT NULL,
	attempts_left INTEGER NOT NULL,
	failure_count INTEGER NOT NULL,
	locked_until TEXT,
	expires_at TEXT NOT NULL,
	opened_at TEXT,
	opened_by_principal_id TEXT
);

CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	actor_principal_id TEXT,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	ip TEXT NOT NULL,
	user_agent TEXT NOT NULL,
	metadata_json TEXT NOT NULL,
	at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pairing_sessions (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL,
	device_name TEXT NOT NULL,
	platform TEXT NOT NULL,
	public_key TEXT,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	confirmed_principal_id TEXT,
	confirmed_client_device_id TEXT
);
`

func (d *DB) migrate(ctx context.Context) error {
	_, err := d.conn.ExecContext(ctx, schema)
	return err
}

// Conn exposes the underlying *sql.DB for packages (acl, transfer) that
// need to compose multi-statement operations in a single transaction.
func (d *DB) Conn() *sql.DB {
	return d.conn
}
