package repomanager

import (
	"context"

	"github.com/dmitrijs2005/tourkeeper/internal/server/repositories/records"
)

// RepositoryManager vends the record repository and runs units of work.
//
// InTx runs fn with a repository bound to a single transaction; the work is
// committed when fn returns nil. Records returns a repository for reads
// outside a transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Records() records.Repository
	InTx(ctx context.Context, fn func(ctx context.Context, repo records.Repository) error) error
	Close() error
}
