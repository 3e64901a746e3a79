package agentdb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lanshare/lanshare/internal/model"
)

// UpsertLocalShare inserts or updates a share by id, preserving CreatedAt
// on update.
func (d *DB) UpsertLocalShare(ctx context.Context, s model.Share) (model.Share, error) {
	existing, err := d.GetLocalShare(ctx, s.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		_, err = d.conn.ExecContext(ctx, `
			INSERT INTO local_shares (id, name, root_path, read_only, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			s.ID, s.Name, s.RootPath, boolToInt(s.ReadOnly), formatTime(s.CreatedAt))
		if err != nil {
			return model.Share{}, err
		}
		return s, nil
	case err != nil:
		return model.Share{}, err
	default:
		s.CreatedAt = existing.CreatedAt
		_, err = d.conn.ExecContext(ctx, `
			UPDATE local_shares SET name = ?, root_path = ?, read_only = ? WHERE id = ?`,
			s.Name, s.RootPath, boolToInt(s.ReadOnly), s.ID)
		if err != nil {
			return model.Share{}, err
		}
		return s, nil
	}
}

// GetLocalShare fetches a share by id.
func (d *DB) GetLocalShare(ctx context.Context, id string) (model.Share, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, name, root_path, read_only, created_at FROM local_shares WHERE id = ?`, id)
	return scanLocalShare(row)
}

// ListLocalShares returns every locally hosted share, ordered by name.
func (d *DB) ListLocalShares(ctx context.Context) ([]model.Share, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, name, root_path, read_only, created_at FROM local_shares ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Share
	for rows.Next() {
		s, err := scanLocalShare(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanLocalShare(row interface{ Scan(dest ...any) error }) (model.Share, error) {
	var s model.Share
	var readOnly int
	var createdAt string
	err := row.Scan(&s.ID, &s.Name, &s.RootPath, &readOnly, &createdAt)
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
