package objects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andrejsk/dropvault/internal/common"
	"github.com/andrejsk/dropvault/internal/dbx"
	"github.com/andrejsk/dropvault/internal/server/models"
)

// PostgresRepository implements object persistence over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, key, display_name, mime_type, size_bytes, owner_id, expiry, deleted_at, status, created_at, updated_at`

// Create inserts a new object row. Exactly one row must be affected.
func (r *PostgresRepository) Create(ctx context.Context, o *models.StoredObject) error {
	query := `
		INSERT INTO objects (id, key, display_name, mime_type, size_bytes, owner_id, expiry, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	res, err := r.db.ExecContext(ctx, query,
		o.ID, o.Key, o.DisplayName, o.MimeType, o.SizeBytes, o.OwnerID, o.Expiry, o.Status)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

// GetByID returns the object with the given id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.StoredObject, error) {
	query := `SELECT ` + selectColumns + ` FROM objects WHERE id=$1`

	o, err := scanObject(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select object: %w", err)
	}
	return o, nil
}

// SelectExpired fetches a batch of objects eligible for soft deletion.
// Keyset pagination on id keeps batches stable across iterations of a
// drain loop.
func (r *PostgresRepository) SelectExpired(ctx context.Context, now time.Time, afterID string, limit int) ([]*models.StoredObject, error) {
	query := `SELECT ` + selectColumns + ` FROM objects
		WHERE expiry < $1 AND deleted_at IS NULL AND id > $2
		ORDER BY id ASC LIMIT $3`

	return r.selectBatch(ctx, query, now, afterID, limit)
}

// MarkDeleted performs the conditional soft-delete transition.
func (r *PostgresRepository) MarkDeleted(ctx context.Context, id string, deletedAt time.Time) (bool, error) {
	query := `UPDATE objects SET deleted_at=$2, updated_at=now() WHERE id=$1 AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, id, deletedAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

// SelectPurgeable fetches a batch of soft-deleted objects past retention.
func (r *PostgresRepository) SelectPurgeable(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*models.StoredObject, error) {
	query := `SELECT ` + selectColumns + ` FROM objects
		WHERE deleted_at < $1 AND id > $2
		ORDER BY id ASC LIMIT $3`

	return r.selectBatch(ctx, query, cutoff, afterID, limit)
}

// Delete removes the row for id if it still exists.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	query := `DELETE FROM objects WHERE id=$1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete object: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) selectBatch(ctx context.Context, query string, boundary time.Time, afterID string, limit int) ([]*models.StoredObject, error) {
	rows, err := r.db.QueryContext(ctx, query, boundary, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select objects: %w", err)
	}
	defer rows.Close()

	var result []*models.StoredObject
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (*models.StoredObject, error) {
	var o models.StoredObject
	var expiry, deletedAt sql.NullTime
	if err := row.Scan(&o.ID, &o.Key, &o.DisplayName, &o.MimeType, &o.SizeBytes,
		&o.OwnerID, &expiry, &deletedAt, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if expiry.Valid {
		o.Expiry = &expiry.Time
	}
	if deletedAt.Valid {
		o.DeletedAt = &deletedAt.Time
	}
	return &o, nil
}
