package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/andrejsk/dropvault/internal/dbx"
	"github.com/andrejsk/dropvault/internal/server/models"
)

// PostgresRepository implements the audit log over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append writes one audit entry. Exactly one row must be affected.
func (r *PostgresRepository) Append(ctx context.Context, e *models.DeletionAuditEntry) error {
	query := `
		INSERT INTO deletion_audit (id, object_id, owner_id, key, display_name, deleted_at, reason, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	res, err := r.db.ExecContext(ctx, query,
		e.ID, e.ObjectID, e.OwnerID, e.Key, e.DisplayName, e.DeletedAt, e.Reason, e.Status, e.Error)
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

// SelectByObjectID returns all entries for the object, oldest first.
func (r *PostgresRepository) SelectByObjectID(ctx context.Context, objectID string) ([]*models.DeletionAuditEntry, error) {
	query := `SELECT id, object_id, owner_id, key, display_name, deleted_at, reason, status, error
		FROM deletion_audit WHERE object_id=$1 ORDER BY deleted_at ASC`

	rows, err := r.db.QueryContext(ctx, query, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit entries: %w", err)
	}
	defer rows.Close()

	var result []*models.DeletionAuditEntry
	for rows.Next() {
		var e models.DeletionAuditEntry
		var errText sql.NullString
		if err := rows.Scan(&e.ID, &e.ObjectID, &e.OwnerID, &e.Key, &e.DisplayName,
			&e.DeletedAt, &e.Reason, &e.Status, &errText); err != nil {
			return nil, err
		}
		if errText.Valid {
			e.Error = &errText.String
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
