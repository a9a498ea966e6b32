package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"specforge/internal/services"
)

// notFound tags a missing row so callers can map it to a not_found result.
func notFound(entity string, id any) error {
	return services.Fail(services.ErrNotFound, services.CodeNotFound, "store", fmt.Sprintf("%s %v not found", entity, id), nil)
}

func mapGetErr(err error, entity string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(entity, id)
	}
	return fmt.Errorf("get %s %v: %w", entity, id, err)
}

// IsNotFound reports whether err signals a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
