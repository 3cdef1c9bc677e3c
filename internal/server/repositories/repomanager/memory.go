package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/tourkeeper/internal/server/repositories/records"
)

// InMemoryRepositoryManager keeps records in memory. InTx serializes units
// of work; writes made before fn fails are not rolled back.
type InMemoryRepositoryManager struct {
	mu      sync.Mutex
	records *records.MemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{records: records.NewMemoryRepository()}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context) error {
	return nil
}

func (m *InMemoryRepositoryManager) Records() records.Repository {
	return m.records
}

func (m *InMemoryRepositoryManager) InTx(ctx context.Context, fn func(ctx context.Context, repo records.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m.records)
}

func (m *InMemoryRepositoryManager) Close() error {
	return nil
}
