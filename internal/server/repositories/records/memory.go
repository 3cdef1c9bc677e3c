package records

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
)

// MemoryRepository keeps records in process memory. It is used when the
// server runs without a database.
type MemoryRepository struct {
	mu      sync.RWMutex
	seq     int64
	records map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

// Lock is a no-op; callers serialize through the repository manager.
func (r *MemoryRepository) Lock(context.Context, string) error {
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneRecord(rec), nil
}

func (r *MemoryRepository) Save(_ context.Context, id string, show *models.Show) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rec := Record{ID: id, Deleted: show == nil, Seq: r.seq}
	if show != nil {
		s := *show
		rec.Show = &s
	}
	r.records[id] = rec
	return r.seq, nil
}

func (r *MemoryRepository) ChangesSince(_ context.Context, since int64, limit int) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Record
	for _, rec := range r.records {
		if rec.Seq > since {
			result = append(result, cloneRecord(rec))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneRecord(rec Record) *Record {
	if rec.Show != nil {
		s := *rec.Show
		rec.Show = &s
	}
	return &rec
}
