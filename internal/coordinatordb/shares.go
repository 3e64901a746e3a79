package coordinatordb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/lanshare/lanshare/internal/model"
)

// CreateShare inserts a new Share, generating an id if empty.
func (d *DB) CreateShare(ctx context.Context, s model.Share) (model.Share, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO shares (id, agent_device_id, name, root_path, read_only, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.AgentDeviceID, s.Name, s.RootPath, boolToInt(s.ReadOnly), formatTime(s.CreatedAt))
	if err != nil {
		return model.Share{}, err
	}
	return s, nil
}

// GetShare fetches a Share by id.
func (d *DB) GetShare(ctx context.Context, id string) (model.Share, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, agent_device_id, name, root_path, read_only, created_at
		FROM shares WHERE id = ?`, id)
	return scanShare(row)
}

// UpdateShare updates name/root_path/read_only on an existing share by id,
// used by internal agent registration's update-in-place path when the
// caller supplies a share_id that already exists.
func (d *DB) UpdateShare(ctx context.Context, s model.Share) error {
	res, err := d.conn.ExecContext(ctx, `
		UPDATE shares SET name = ?, root_path = ?, read_only = ? WHERE id = ?`,
		s.Name, s.RootPath, boolToInt(s.ReadOnly), s.ID)
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

// ListSharesByDevice returns every Share belonging to an agent device.
func (d *DB) ListSharesByDevice(ctx context.Context, agentDeviceID string) ([]model.Share, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, agent_device_id, name, root_path, read_only, created_at
		FROM shares WHERE agent_device_id = ? ORDER BY name ASC`, agentDeviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Share
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListShares returns every share, used by federated search's fan-out
// enumeration of agent shares.
func (d *DB) ListShares(ctx context.Context) ([]model.Share, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, agent_device_id, name, root_path, read_only, created_at
		FROM shares ORDER BY agent_device_id ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Share
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanShare(row interface{ Scan(dest ...any) error }) (model.Share, error) {
	var s model.Share
	var readOnly int
	var createdAt string
	err := row.Scan(&s.ID, &s.AgentDeviceID, &s.Name, &s.RootPath, &readOnly, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Share{}, ErrNotFound
	}
	if err != nil {
		return model.Share{}, err
	}
	s.ReadOnly = readOnly != 0
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Share{}, err
	}
	return s, nil
}
