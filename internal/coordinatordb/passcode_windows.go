package coordinatordb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lanshare/lanshare/internal/model"
)

// CreatePasscodeWindow inserts the sender-gate row for a transfer, opened
// once the receiver approves, per spec.md §4.3.
func (d *DB) CreatePasscodeWindow(ctx context.Context, w model.PasscodeWindow) (model.PasscodeWindow, error) {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO passcode_windows (transfer_request_id, passcode_hash, attempts_left, failure_count, locked_until, expires_at, opened_at, opened_by_principal_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.TransferRequestID, w.PasscodeHash, w.AttemptsLeft, w.FailureCount, formatTimePtr(w.LockedUntil), formatTime(w.ExpiresAt),
		formatTimePtr(w.OpenedAt), w.OpenedByPrincipalID)
	if err != nil {
		return model.PasscodeWindow{}, err
	}
	return w, nil
}

// GetPasscodeWindow fetches the gate row for a transfer.
func (d *DB) GetPasscodeWindow(ctx context.Context, transferRequestID string) (model.PasscodeWindow, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT transfer_request_id, passcode_hash, attempts_left, failure_count, locked_until, expires_at, opened_at, opened_by_principal_id
		FROM passcode_windows WHERE transfer_request_id = ?`, transferRequestID)
	return scanPasscodeWindow(row)
}

// UpdatePasscodeWindow persists the mutable counters after a verify
// attempt (attempts_left, failure_count, locked_until) or an open event
// (opened_at, opened_by_principal_id).
func (d *DB) UpdatePasscodeWindow(ctx context.Context, w model.PasscodeWindow) error {
	res, err := d.conn.ExecContext(ctx, `
		UPDATE passcode_windows SET attempts_left = ?, failure_count = ?, locked_until = ?, opened_at = ?, opened_by_principal_id = ?
		WHERE transfer_request_id = ?`,
		w.AttemptsLeft, w.FailureCount, formatTimePtr(w.LockedUntil), formatTimePtr(w.OpenedAt), w.OpenedByPrincipalID, w.TransferRequestID)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func scanPasscodeWindow(row interface{ Scan(dest ...any) error }) (model.PasscodeWindow, error) {
	var w model.PasscodeWindow
	var lockedUntil, openedAt sql.NullString
	var expiresAt string
	var openedBy sql.NullString
	err := row.Scan(&w.TransferRequestID, &w.PasscodeHash, &w.AttemptsLeft, &w.FailureCount, &lockedUntil, &expiresAt, &openedAt, &openedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PasscodeWindow{}, ErrNotFound
	}
	if err != nil {
		return model.PasscodeWindow{}, err
	}
	if w.LockedUntil, err = parseTimePtr(lockedUntil); err != nil {
		return model.PasscodeWindow{}, err
	}
	if w.OpenedAt, err = parseTimePtr(openedAt); err != nil {
		return model.PasscodeWindow{}, err
	}
	if w.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return model.PasscodeWindow{}, err
	}
	if openedBy.Valid {
		v := openedBy.String
		w.OpenedByPrincipalID = &v
	}
	return w, nil
}
