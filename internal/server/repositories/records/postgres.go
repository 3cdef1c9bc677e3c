package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/dbx"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Lock takes a transaction-scoped advisory lock keyed by the record id. It
// also covers ids that have no row yet.
func (r *PostgresRepository) Lock(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return fmt.Errorf("failed to lock record %s: %w", id, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT id, data, deleted, seq FROM records WHERE id = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, nil
}

// Save upserts the record. A nil show writes a tombstone.
func (r *PostgresRepository) Save(ctx context.Context, id string, show *models.Show) (int64, error) {
	var data any
	deleted := show == nil
	if !deleted {
		b, err := json.Marshal(show)
		if err != nil {
			return 0, fmt.Errorf("failed to encode record %s: %w", id, err)
		}
		data = b
	}

	query := `
		INSERT INTO records (id, data, deleted, seq)
		VALUES ($1, $2, $3, nextval('record_seq'))
		ON CONFLICT (id)
		DO UPDATE SET
			data = EXCLUDED.data,
			deleted = EXCLUDED.deleted,
			seq = EXCLUDED.seq,
			updated_at = now()
		RETURNING seq;
	`
	var seq int64
	if err := r.db.QueryRowContext(ctx, query, id, data, deleted).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to save record %s: %w", id, err)
	}
	return seq, nil
}

// ChangesSince returns up to limit records with seq > since in sequence order.
func (r *PostgresRepository) ChangesSince(ctx context.Context, since int64, limit int) ([]*Record, error) {
	query := `SELECT id, data, deleted, seq FROM records WHERE seq > $1 ORDER BY seq LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select changes: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec  Record
		data []byte
	)
	if err := s.Scan(&rec.ID, &data, &rec.Deleted, &rec.Seq); err != nil {
		return nil, err
	}
	if !rec.Deleted && len(data) > 0 {
		var show models.Show
		if err := json.Unmarshal(data, &show); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", rec.ID, err)
		}
		rec.Show = &show
	}
	return &rec, nil
}
