package coordinatordb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lanshare/lanshare/internal/model"
)

// UpsertAgentDevice inserts or updates an AgentDevice by id, mirroring the
// original register_agent endpoint's create-or-update semantics
// (_examples/original_source/coordinator/routers/catalog.py).
func (d *DB) UpsertAgentDevice(ctx context.Context, dev model.AgentDevice) (model.AgentDevice, error) {
	if dev.ID == "" {
		dev.ID = uuid.NewString()
	}
	existing, err := d.GetAgentDevice(ctx, dev.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return model.AgentDevice{}, err
	}
	if errors.Is(err, ErrNotFound) {
		if dev.CreatedAt.IsZero() {
			dev.CreatedAt = time.Now()
		}
		_, err := d.conn.ExecContext(ctx, `
			INSERT INTO agent_devices (id, owner_principal_id, name, base_url, visibility, online_state, last_seen, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			dev.ID, dev.OwnerPrincipalID, dev.Name, dev.BaseURL, boolToInt(dev.Visibility), boolToInt(dev.OnlineState),
			formatTimePtr(dev.LastSeen), formatTime(dev.CreatedAt))
		return dev, err
	}
	dev.CreatedAt = existing.CreatedAt
	_, err = d.conn.ExecContext(ctx, `
		UPDATE agent_devices SET owner_principal_id=?, name=?, base_url=?, visibility=?, online_state=?, last_seen=?
		WHERE id=?`,
		dev.OwnerPrincipalID, dev.Name, dev.BaseURL, boolToInt(dev.Visibility), boolToInt(dev.OnlineState),
		formatTimePtr(dev.LastSeen), dev.ID)
	return dev, err
}

// GetAgentDevice fetches an AgentDevice by id.
func (d *DB) GetAgentDevice(ctx context.Context, id string) (model.AgentDevice, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, owner_principal_id, name, base_url, visibility, online_state, last_seen, created_at
		FROM agent_devices WHERE id = ?`, id)
	return scanAgentDevice(row)
}

// ListAgentDevices returns all agent devices ordered by name, per spec.md
// §6 catalog/devices.
func (d *DB) ListAgentDevices(ctx context.Context) ([]model.AgentDevice, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, owner_principal_id, name, base_url, visibility, online_state, last_seen, created_at
		FROM agent_devices ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AgentDevice
	for rows.Next() {
		dev, err := scanAgentDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dev)
	}
	return out, rows.Err()
}

// SetAgentDeviceVisibility toggles visibility, owner-enforced by the caller.
func (d *DB) SetAgentDeviceVisibility(ctx context.Context, id string, visible bool) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE agent_devices SET visibility = ? WHERE id = ?`, boolToInt(visible), id)
	return err
}

// HeartbeatAgentDevice updates last_seen/online_state, per spec.md §6
// internal heartbeat route.
func (d *DB) HeartbeatAgentDevice(ctx context.Context, id string, online bool, now time.Time) error {
	res, err := d.conn.ExecContext(ctx, `UPDATE agent_devices SET last_seen = ?, online_state = ? WHERE id = ?`,
		formatTime(now), boolToInt(online), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAgentDevice(row interface{ Scan(dest ...any) error }) (model.AgentDevice, error) {
	var dev model.AgentDevice
	var visibility, online int
	var lastSeen sql.NullString
	var createdAt string
	err := row.Scan(&dev.ID, &dev.OwnerPrincipalID, &dev.Name, &dev.BaseURL, &visibility, &online, &lastSeen, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AgentDevice{}, ErrNotFound
	}
	if err != nil {
		return model.AgentDevice{}, err
	}
	dev.Visibility = visibility != 0
	dev.OnlineState = online != 0
	if dev.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.AgentDevice{}, err
	}
	if dev.LastSeen, err = parseTimePtr(lastSeen); err != nil {
		return model.AgentDevice{}, err
	}
	return dev, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
