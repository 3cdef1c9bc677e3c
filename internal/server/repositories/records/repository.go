// Package records stores the authoritative copy of every show on the remote
// together with a global change sequence used by clients to pull updates.
package records

import (
	"context"

	"github.com/dmitrijs2005/tourkeeper/internal/models"
)

// Record is the stored form of a show. Deleted records keep their id and
// sequence as a tombstone so that pulls can observe the removal.
type Record struct {
	ID      string
	Show    *models.Show
	Deleted bool
	Seq     int64
}

// Repository is the persistence contract for records.
//
// Get returns common.ErrorNotFound for unknown ids. Save stamps the record
// with the next sequence value and returns it. Lock serializes writers of
// one id until the surrounding transaction ends.
type Repository interface {
	Lock(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Record, error)
	Save(ctx context.Context, id string, show *models.Show) (int64, error)
	ChangesSince(ctx context.Context, since int64, limit int) ([]*Record, error)
}
