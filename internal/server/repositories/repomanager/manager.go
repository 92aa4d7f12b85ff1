// Package repomanager vends repository implementations bound to a database
// handle and exposes a schema migration hook.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/andrejsk/dropvault/internal/dbx"
	"github.com/andrejsk/dropvault/internal/server/repositories/audit"
	"github.com/andrejsk/dropvault/internal/server/repositories/objects"
)

// RepositoryManager abstracts the persistence backend so services can run
// against PostgreSQL in production and fakes in tests. Repositories are
// bound per call to a DBTX, which lets the same repository code run inside
// and outside transactions.
type RepositoryManager interface {
	Objects(db dbx.DBTX) objects.Repository
	Audit(db dbx.DBTX) audit.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
