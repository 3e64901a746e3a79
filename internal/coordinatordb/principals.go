package coordinatordb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lanshare/lanshare/internal/model"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

// CreatePrincipal inserts a new Principal, generating an id if p.ID is empty.
func (d *DB) CreatePrincipal(ctx context.Context, p model.Principal) (model.Principal, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO principals (id, display_name, status, public_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.DisplayName, string(p.Status), p.PublicKey, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return model.Principal{}, err
	}
	return p, nil
}

func scanPrincipal(row interface {
	Scan(dest ...any) error
}) (model.Principal, error) {
	var p model.Principal
	var status, createdAt, updatedAt string
	var publicKey sql.NullString
	if err := row.Scan(&p.ID, &p.DisplayName, &status, &publicKey, &createdAt, &updatedAt); err != nil {
		return model.Principal{}, err
	}
	p.Status = model.PrincipalStatus(status)
	if publicKey.Valid {
		pk := publicKey.String
		p.PublicKey = &pk
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Principal{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Principal{}, err
	}
	return p, nil
}

// GetPrincipal fetches a Principal by id.
func (d *DB) GetPrincipal(ctx context.Context, id string) (model.Principal, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, display_name, status, public_key, created_at, updated_at
		FROM principals WHERE id = ?`, id)
	p, err := scanPrincipal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Principal{}, ErrNotFound
	}
	return p, err
}

// ListActivePrincipals returns every principal with status=active, used to
// materialize default grants on share creation.
func (d *DB) ListActivePrincipals(ctx context.Context) ([]model.Principal, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, display_name, status, public_key, created_at, updated_at
		FROM principals WHERE status = ?`, string(model.PrincipalActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPrincipals reports how many principals exist, used by pairing
// bootstrap to decide whether this is the first-principal fast path.
func (d *DB) CountPrincipals(ctx context.Context) (int, error) {
	var n int
	err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals`).Scan(&n)
	return n, err
}

// CreateClientDevice inserts a new ClientDevice.
func (d *DB) CreateClientDevice(ctx context.Context, c model.ClientDevice) (model.ClientDevice, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO client_devices (id, principal_id, name, platform, device_secret_hash, status, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PrincipalID, c.Name, c.Platform, c.DeviceSecretHash, string(c.Status), formatTimePtr(c.LastSeen), formatTime(c.CreatedAt))
	if err != nil {
		return model.ClientDevice{}, err
	}
	return c, nil
}

// GetClientDevice fetches a ClientDevice by id.
func (d *DB) GetClientDevice(ctx context.Context, id string) (model.ClientDevice, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, principal_id, name, platform, device_secret_hash, status, last_seen, created_at
		FROM client_devices WHERE id = ?`, id)
	var c model.ClientDevice
	var status, createdAt string
	var lastSeen sql.NullString
	err := row.Scan(&c.ID, &c.PrincipalID, &c.Name, &c.Platform, &c.DeviceSecretHash, &status, &lastSeen, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ClientDevice{}, ErrNotFound
	}
	if err != nil {
		return model.ClientDevice{}, err
	}
	c.Status = model.PrincipalStatus(status)
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.ClientDevice{}, err
	}
	if c.LastSeen, err = parseTimePtr(lastSeen); err != nil {
		return model.ClientDevice{}, err
	}
	return c, nil
}

// TouchClientDevice updates last_seen to now.
func (d *DB) TouchClientDevice(ctx context.Context, id string, now time.Time) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE client_devices SET last_seen = ? WHERE id = ?`, formatTime(now), id)
	return err
}
