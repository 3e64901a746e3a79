package agentdb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lanshare/lanshare/internal/model"
)

// CreateInboxItem inserts a new InboxTransferItem, keyed by its
// "transfer_id:item_id" composite id, per spec.md §4.7.
func (d *DB) CreateInboxItem(ctx context.Context, it model.InboxTransferItem) (model.InboxTransferItem, error) {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO inbox_items (id, transfer_id, item_id, share_id, filename, expected_size, expected_sha256,
			received_size, part_path, inbox_path, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.CompositeID(), it.TransferID, it.ItemID, it.ShareID, it.Filename, it.ExpectedSize, it.ExpectedSHA256,
		it.ReceivedSize, it.PartPath, it.InboxPath, string(it.State), formatTime(it.CreatedAt), formatTime(it.UpdatedAt))
	if err != nil {
		return model.InboxTransferItem{}, err
	}
	return it, nil
}

// GetInboxItem fetches a record by (transferID, itemID). Returns
// ErrNotFound if absent.
func (d *DB) GetInboxItem(ctx context.Context, transferID, itemID string) (model.InboxTransferItem, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, transfer_id, item_id, share_id, filename, expected_size, expected_sha256,
			received_size, part_path, inbox_path, state, created_at, updated_at
		FROM inbox_items WHERE id = ?`, transferID+":"+itemID)
	return scanInboxItem(row)
}

// ListInboxItemsForTransfer returns every item staged for transferID on
// shareID, matching the original's _load_items scope.
func (d *DB) ListInboxItemsForTransfer(ctx context.Context, transferID, shareID string) ([]model.InboxTransferItem, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, transfer_id, item_id, share_id, filename, expected_size, expected_sha256,
			received_size, part_path, inbox_path, state, created_at, updated_at
		FROM inbox_items WHERE transfer_id = ? AND share_id = ?`, transferID, shareID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.InboxTransferItem
	for rows.Next() {
		it, err := scanInboxItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateInboxItem persists the full mutable state of an existing record.
func (d *DB) UpdateInboxItem(ctx context.Context, it model.InboxTransferItem) error {
	res, err := d.conn.ExecContext(ctx, `
		UPDATE inbox_items SET received_size = ?, part_path = ?, inbox_path = ?, state = ?, updated_at = ?
		WHERE id = ?`,
		it.ReceivedSize, it.PartPath, it.InboxPath, string(it.State), formatTime(it.UpdatedAt), it.CompositeID())
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

func scanInboxItem(row interface{ Scan(dest ...any) error }) (model.InboxTransferItem, error) {
	var it model.InboxTransferItem
	var id, state string
	var inboxPath sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&id, &it.TransferID, &it.ItemID, &it.ShareID, &it.Filename, &it.ExpectedSize, &it.ExpectedSHA256,
		&it.ReceivedSize, &it.PartPath, &inboxPath, &state, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.InboxTransferItem{}, ErrNotFound
	}
	if err != nil {
		return model.InboxTransferItem{}, err
	}
	it.State = model.InboxItemState(state)
	if inboxPath.Valid {
		path := inboxPath.String
		it.InboxPath = &path
	}
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.InboxTransferItem{}, err
	}
	if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.InboxTransferItem{}, err
	}
	return it, nil
}
