package coordinatordb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/lanshare/lanshare/internal/model"
)

// AppendAuditEvent inserts an append-only AuditEvent row.
func (d *DB) AppendAuditEvent(ctx context.Context, e model.AuditEvent) (model.AuditEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO audit_events (id, actor_principal_id, action, resource_type, resource_id, ip, user_agent, metadata_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ActorPrincipalID, e.Action, e.ResourceType, e.ResourceID, e.IP, e.UserAgent, e.MetadataJSON, formatTime(e.At))
	if err != nil {
		return model.AuditEvent{}, err
	}
	return e, nil
}

// ListAuditEventsForResource returns every audit row for a resource,
// newest first. No HTTP route in this repository exposes it.
func (d *DB) ListAuditEventsForResource(ctx context.Context, resourceType, resourceID string) ([]model.AuditEvent, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, actor_principal_id, action, resource_type, resource_id, ip, user_agent, metadata_json, at
		FROM audit_events WHERE resource_type = ? AND resource_id = ? ORDER BY at DESC`, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAuditEvent(row interface{ Scan(dest ...any) error }) (model.AuditEvent, error) {
	var e model.AuditEvent
	var actor sql.NullString
	var at string
	err := row.Scan(&e.ID, &actor, &e.Action, &e.ResourceType, &e.ResourceID, &e.IP, &e.UserAgent, &e.MetadataJSON, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuditEvent{}, ErrNotFound
	}
	if err != nil {
		return model.AuditEvent{}, err
	}
	if actor.Valid {
		a := actor.String
		e.ActorPrincipalID = &a
	}
	if e.At, err = parseTime(at); err != nil {
		return model.AuditEvent{}, err
	}
	return e, nil
}
