package repo

import (
	"context"

	"inspectline/internal/domain"
)

// ListAuditEvents returns the audit trail for one entity in insertion order.
func (r Repo) ListAuditEvents(ctx context.Context, entityID string, limit int) ([]domain.AuditEvent, error) {
	query := `SELECT id,entity_id,actor_id,action,details_json,ts FROM audits WHERE entity_id=? ORDER BY id ASC`
	args := []any{entityID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.EntityID, &e.ActorID, &e.Action, &e.Details, &e.TS); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// AuditEventsAfter returns audit events with IDs greater than the cursor in
// ascending order. The webhook dispatcher polls with this.
func (r Repo) AuditEventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,entity_id,actor_id,action,details_json,ts FROM audits WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.EntityID, &e.ActorID, &e.Action, &e.Details, &e.TS); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// LatestAuditEventID returns the most recent audit event ID.
func (r Repo) LatestAuditEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audits`).Scan(&id)
	return id, err
}
