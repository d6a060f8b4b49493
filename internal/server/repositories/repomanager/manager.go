package repomanager

import (
	"context"
	"database/sql"

	"github.com/hi-space/next-memo/internal/dbx"
	"github.com/hi-space/next-memo/internal/server/repositories/memos"
)

// RepositoryManager vends repository implementations bound to a DBTX
// (either the shared *sql.DB or an open transaction) and exposes a
// schema migration hook.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Memos(db dbx.DBTX) memos.Repository
}
