// Package audit persists the append-only deletion audit log: one entry per
// lifecycle transition attempt, never updated, never deleted.
package audit

import (
	"context"

	"github.com/andrejsk/dropvault/internal/server/models"
)

// Repository defines storage operations for deletion audit entries.
type Repository interface {
	// Append writes one audit entry.
	Append(ctx context.Context, e *models.DeletionAuditEntry) error

	// SelectByObjectID returns every entry recorded for an object, oldest
	// first. Entries survive the deletion of the object row itself.
	SelectByObjectID(ctx context.Context, objectID string) ([]*models.DeletionAuditEntry, error)
}
