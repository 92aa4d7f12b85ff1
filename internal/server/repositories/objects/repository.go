// Package objects persists StoredObject rows, the single source of truth
// for object lifecycle state.
package objects

import (
	"context"
	"time"

	"github.com/andrejsk/dropvault/internal/server/models"
)

// Repository defines storage operations for object metadata rows.
//
// All lifecycle mutations are conditional (update-if-null, delete-if-exists)
// so that overlapping scheduler instances converge instead of racing.
type Repository interface {
	// Create inserts a new object row.
	Create(ctx context.Context, o *models.StoredObject) error

	// GetByID returns the object with the given id, or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.StoredObject, error)

	// SelectExpired returns up to limit objects with expiry < now that have
	// not been soft-deleted, with id > afterID, ordered by id ascending.
	SelectExpired(ctx context.Context, now time.Time, afterID string, limit int) ([]*models.StoredObject, error)

	// MarkDeleted sets deleted_at only if it is still null. It reports
	// whether this call won the transition; false means another run already
	// handled the object.
	MarkDeleted(ctx context.Context, id string, deletedAt time.Time) (bool, error)

	// SelectPurgeable returns up to limit soft-deleted objects with
	// deleted_at < cutoff, with id > afterID, ordered by id ascending.
	SelectPurgeable(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*models.StoredObject, error)

	// Delete removes the row. It reports whether a row was actually
	// removed; false means the row was already gone.
	Delete(ctx context.Context, id string) (bool, error)
}
