package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AuditRecord is the caller-supplied part of an audit event.
type AuditRecord struct {
	EntityType string
	EntityID   int64
	Action     string
	Actor      string
	Payload    any
}

// AppendAudit records an immutable audit event.
func (q *Queries) AppendAudit(ctx context.Context, rec AuditRecord) error {
	payload, err := encodeJSON(rec.Payload)
	if err != nil {
		return err
	}
	actor := rec.Actor
	if actor == "" {
		actor = "system"
	}
	if _, err := q.exec(ctx,
		`INSERT INTO audit_events (entity_type, entity_id, action, actor, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.EntityType, rec.EntityID, rec.Action, actor, payload, formatTime(q.now()),
	); err != nil {
		return fmt.Errorf("append audit %s/%s: %w", rec.EntityType, rec.Action, err)
	}
	return nil
}

// AuditFilter narrows ListAudit.
type AuditFilter struct {
	EntityType string
	EntityID   int64
	Action     string
	Since      time.Time
	AfterID    int64
	Limit      int
}

// ListAudit returns audit events in insertion order.
func (q *Queries) ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEvent, error) {
	query := `SELECT id, entity_type, entity_id, action, actor, payload, created_at FROM audit_events`
	var (
		where []string
		args  []any
	)
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID > 0 {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	if filter.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, filter.AfterID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	var out []*AuditEvent
	if err := q.selectAll(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}
