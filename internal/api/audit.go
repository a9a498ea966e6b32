package api

import (
	"context"

	"specforge/internal/store"
)

// Audit returns audit events matching filter in insertion order.
func (s *Service) Audit(ctx context.Context, filter store.AuditFilter) ([]*store.AuditEvent, error) {
	out, err := s.store.ListAudit(ctx, filter)
	return out, wrapStore("list audit", err)
}
