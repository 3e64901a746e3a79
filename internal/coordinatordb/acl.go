package coordinatordb

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/lanshare/lanshare/internal/model"
)

// UpsertAclGrant inserts a grant or replaces its permission set, keyed on
// the (principal_id, share_id) unique index, mirroring the original ACL
// service's set_permissions upsert (_examples/original_source/coordinator/services/acl_service.py).
func (d *DB) UpsertAclGrant(ctx context.Context, g model.AclGrant) (model.AclGrant, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO acl_grants (id, principal_id, share_id, permissions_raw, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(principal_id, share_id) DO UPDATE SET
			permissions_raw = excluded.permissions_raw,
			updated_at = excluded.updated_at`,
		g.ID, g.PrincipalID, g.ShareID, g.PermissionsRaw, formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	if err != nil {
		return model.AclGrant{}, err
	}
	return d.GetAclGrant(ctx, g.PrincipalID, g.ShareID)
}

// GetAclGrant fetches a grant by (principal_id, share_id).
func (d *DB) GetAclGrant(ctx context.Context, principalID, shareID string) (model.AclGrant, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, principal_id, share_id, permissions_raw, created_at, updated_at
		FROM acl_grants WHERE principal_id = ? AND share_id = ?`, principalID, shareID)
	return scanAclGrant(row)
}

// ListAclGrantsForShares batch-fetches every grant belonging to principalID
// across shareIDs, used by federated search to resolve per-share
// permissions in one round trip instead of N.
func (d *DB) ListAclGrantsForShares(ctx context.Context, principalID string, shareIDs []string) (map[string]model.AclGrant, error) {
	out := make(map[string]model.AclGrant, len(shareIDs))
	if len(shareIDs) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(shareIDs)), ",")
	args := make([]any, 0, len(shareIDs)+1)
	args = append(args, principalID)
	for _, id := range shareIDs {
		args = append(args, id)
	}
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, principal_id, share_id, permissions_raw, created_at, updated_at
		FROM acl_grants WHERE principal_id = ? AND share_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		g, err := scanAclGrant(rows)
		if err != nil {
			return nil, err
		}
		out[g.ShareID] = g
	}
	return out, rows.Err()
}

// ListAclGrantsForShare returns every principal's grant on a single share.
// No caller in this repository uses it.
func (d *DB) ListAclGrantsForShare(ctx context.Context, shareID string) ([]model.AclGrant, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, principal_id, share_id, permissions_raw, created_at, updated_at
		FROM acl_grants WHERE share_id = ?`, shareID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AclGrant
	for rows.Next() {
		g, err := scanAclGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanAclGrant(row interface{ Scan(dest ...any) error }) (model.AclGrant, error) {
	var g model.AclGrant
	var createdAt, updatedAt string
	err := row.Scan(&g.ID, &g.PrincipalID, &g.ShareID, &g.PermissionsRaw, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AclGrant{}, ErrNotFound
	}
	if err != nil {
		return model.AclGrant{}, err
	}
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.AclGrant{}, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.AclGrant{}, err
	}
	return g, nil
}
