package coordinatordb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/lanshare/lanshare/internal/model"
)

// CreatePairingSession inserts a new PairingSession, generating an id if
// empty, grounded on the original pairing flow's session-row creation
// (_examples/original_source/coordinator/services/pairing_service.py).
func (d *DB) CreatePairingSession(ctx context.Context, p model.PairingSession) (model.PairingSession, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO pairing_sessions (id, code, device_name, platform, public_key, status, created_at, expires_at, confirmed_principal_id, confirmed_client_device_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Code, p.DeviceName, p.Platform, p.PublicKey, string(p.Status), formatTime(p.CreatedAt), formatTime(p.ExpiresAt),
		p.ConfirmedPrincipalID, p.ConfirmedClientDeviceID)
	if err != nil {
		return model.PairingSession{}, err
	}
	return p, nil
}

// GetPairingSessionByCode fetches the most recent session for a pairing
// code. No caller in this repository uses it; confirmation looks sessions
// up by id.
func (d *DB) GetPairingSessionByCode(ctx context.Context, code string) (model.PairingSession, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, code, device_name, platform, public_key, status, created_at, expires_at, confirmed_principal_id, confirmed_client_device_id
		FROM pairing_sessions WHERE code = ? ORDER BY created_at DESC LIMIT 1`, code)
	return scanPairingSession(row)
}

// GetPairingSession fetches a session by id, used by pairing confirmation
// to load the pending session named in the request.
func (d *DB) GetPairingSession(ctx context.Context, id string) (model.PairingSession, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, code, device_name, platform, public_key, status, created_at, expires_at, confirmed_principal_id, confirmed_client_device_id
		FROM pairing_sessions WHERE id = ?`, id)
	return scanPairingSession(row)
}

// ConfirmPairingSession marks a session confirmed and records the
// principal/client device it resolved to.
func (d *DB) ConfirmPairingSession(ctx context.Context, id, principalID, clientDeviceID string) error {
	res, err := d.conn.ExecContext(ctx, `
		UPDATE pairing_sessions SET status = ?, confirmed_principal_id = ?, confirmed_client_device_id = ?
		WHERE id = ?`, string(model.PairingConfirmed), principalID, clientDeviceID, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

// ExpirePairingSession marks a session expired, used when a confirmation
// with the correct code arrives after expires_at has passed.
func (d *DB) ExpirePairingSession(ctx context.Context, id string) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE pairing_sessions SET status = ? WHERE id = ?`, string(model.PairingExpired), id)
	return err
}

func scanPairingSession(row interface{ Scan(dest ...any) error }) (model.PairingSession, error) {
	var p model.PairingSession
	var status, createdAt, expiresAt string
	var publicKey, confirmedPrincipal, confirmedClient sql.NullString
	err := row.Scan(&p.ID, &p.Code, &p.DeviceName, &p.Platform, &publicKey, &status, &createdAt, &expiresAt, &confirmedPrincipal, &confirmedClient)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PairingSession{}, ErrNotFound
	}
	if err != nil {
		return model.PairingSession{}, err
	}
	p.Status = model.PairingSessionStatus(status)
	if publicKey.Valid {
		v := publicKey.String
		p.PublicKey = &v
	}
	if confirmedPrincipal.Valid {
		v := confirmedPrincipal.String
		p.ConfirmedPrincipalID = &v
	}
	if confirmedClient.Valid {
		v := confirmedClient.String
		p.ConfirmedClientDeviceID = &v
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.PairingSession{}, err
	}
	if p.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return model.PairingSession{}, err
	}
	return p, nil
}
