package coordinatordb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lanshare/lanshare/internal/model"
)

// CreateTransferRequest inserts a TransferRequest and its TransferItems in
// a single transaction, mirroring the original create_transfer flow
// (_examples/original_source/coordinator/services/transfer_service.py).
func (d *DB) CreateTransferRequest(ctx context.Context, tr model.TransferRequest, items []model.TransferItem) (model.TransferRequest, []model.TransferItem, error) {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return model.TransferRequest{}, nil, err
	}
	defer tx.Rollback()

	reasonJSON, err := encodeReason(tr.Reason)
	if err != nil {
		return model.TransferRequest{}, nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfer_requests (id, sender_principal_id, sender_client_device_id, receiver_device_id, receiver_share_id, state, reason, created_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.SenderPrincipalID, tr.SenderClientDeviceID, tr.ReceiverDeviceID, tr.ReceiverShareID,
		string(tr.State), reasonJSON, formatTime(tr.CreatedAt), formatTime(tr.ExpiresAt), formatTime(tr.UpdatedAt))
	if err != nil {
		return model.TransferRequest{}, nil, err
	}

	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		items[i].TransferRequestID = tr.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transfer_items (id, transfer_request_id, filename, size, sha256, mime_type, state)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			items[i].ID, items[i].TransferRequestID, items[i].Filename, items[i].Size, items[i].SHA256, items[i].MimeType, string(items[i].State))
		if err != nil {
			return model.TransferRequest{}, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.TransferRequest{}, nil, err
	}
	return tr, items, nil
}

// GetTransferRequest fetches a TransferRequest by id.
func (d *DB) GetTransferRequest(ctx context.Context, id string) (model.TransferRequest, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, sender_principal_id, sender_client_device_id, receiver_device_id, receiver_share_id, state, reason, created_at, expires_at, updated_at
		FROM transfer_requests WHERE id = ?`, id)
	return scanTransferRequest(row)
}

// ListTransferRequestsForPrincipal returns every transfer where
// principalID is either sender or the owner of the receiving device,
// newest first, per spec.md §6 list_transfers.
func (d *DB) ListTransferRequestsForPrincipal(ctx context.Context, principalID string) ([]model.TransferRequest, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT tr.id, tr.sender_principal_id, tr.sender_client_device_id, tr.receiver_device_id, tr.receiver_share_id, tr.state, tr.reason, tr.created_at, tr.expires_at, tr.updated_at
		FROM transfer_requests tr
		JOIN agent_devices ad ON ad.id = tr.receiver_device_id
		WHERE tr.sender_principal_id = ? OR ad.owner_principal_id = ?
		ORDER BY tr.created_at DESC`, principalID, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TransferRequest
	for rows.Next() {
		tr, err := scanTransferRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// UpdateTransferRequestState persists a new state (and optionally reason),
// stamping updated_at. Pass reason=nil to leave the stored reason unchanged.
func (d *DB) UpdateTransferRequestState(ctx context.Context, id string, state model.TransferState, reason *model.ApprovalPreferences, updatedAt time.Time) error {
	if reason == nil {
		res, err := d.conn.ExecContext(ctx, `UPDATE transfer_requests SET state = ?, updated_at = ? WHERE id = ?`,
			string(state), formatTime(updatedAt), id)
		if err != nil {
			return err
		}
		return rowsAffectedOrNotFound(res)
	}
	reasonJSON, err := encodeReason(reason)
	if err != nil {
		return err
	}
	res, err := d.conn.ExecContext(ctx, `UPDATE transfer_requests SET state = ?, reason = ?, updated_at = ? WHERE id = ?`,
		string(state), reasonJSON, formatTime(updatedAt), id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTransferRequest(row interface{ Scan(dest ...any) error }) (model.TransferRequest, error) {
	var tr model.TransferRequest
	var state, createdAt, expiresAt, updatedAt string
	var reason sql.NullString
	err := row.Scan(&tr.ID, &tr.SenderPrincipalID, &tr.SenderClientDeviceID, &tr.ReceiverDeviceID, &tr.ReceiverShareID,
		&state, &reason, &createdAt, &expiresAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TransferRequest{}, ErrNotFound
	}
	if err != nil {
		return model.TransferRequest{}, err
	}
	tr.State = model.TransferState(state)
	if reason.Valid && reason.String != "" {
		var rp model.ApprovalPreferences
		if err := json.Unmarshal([]byte(reason.String), &rp); err != nil {
			return model.TransferRequest{}, err
		}
		tr.Reason = &rp
	}
	if tr.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.TransferRequest{}, err
	}
	if tr.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return model.TransferRequest{}, err
	}
	if tr.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.TransferRequest{}, err
	}
	return tr, nil
}

func encodeReason(r *model.ApprovalPreferences) (any, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ListTransferItems returns every item belonging to a transfer, in
// insertion order.
func (d *DB) ListTransferItems(ctx context.Context, transferRequestID string) ([]model.TransferItem, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, transfer_request_id, filename, size, sha256, mime_type, state
		FROM transfer_items WHERE transfer_request_id = ? ORDER BY rowid ASC`, transferRequestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TransferItem
	for rows.Next() {
		it, err := scanTransferItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// GetTransferItem fetches a single item by id.
func (d *DB) GetTransferItem(ctx context.Context, id string) (model.TransferItem, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, transfer_request_id, filename, size, sha256, mime_type, state
		FROM transfer_items WHERE id = ?`, id)
	return scanTransferItem(row)
}

// UpdateTransferItemState persists a new item state.
func (d *DB) UpdateTransferItemState(ctx context.Context, id string, state model.ItemState) error {
	res, err := d.conn.ExecContext(ctx, `UPDATE transfer_items SET state = ? WHERE id = ?`, string(state), id)
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

// DeleteTransferRequest removes a transfer and its items/passcode window,
// used by clear_history.
func (d *DB) DeleteTransferRequest(ctx context.Context, id string) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM passcode_windows WHERE transfer_request_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transfer_items WHERE transfer_request_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transfer_requests WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func scanTransferItem(row interface{ Scan(dest ...any) error }) (model.TransferItem, error) {
	var it model.TransferItem
	var state string
	err := row.Scan(&it.ID, &it.TransferRequestID, &it.Filename, &it.Size, &it.SHA256, &it.MimeType, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TransferItem{}, ErrNotFound
	}
	if err != nil {
		return model.TransferItem{}, err
	}
	it.State = model.ItemState(state)
	return it, nil
}
