package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/conflict"
	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
	"github.com/dmitrijs2005/tourkeeper/internal/server/repositories/records"
	"github.com/dmitrijs2005/tourkeeper/internal/server/repositories/repomanager"
)

const (
	DefaultChangesLimit = 200
	MaxChangesLimit     = 1000
)

// ApplyResult is the authoritative state after an operation was applied.
// Show is nil when the record is deleted.
type ApplyResult struct {
	Show *models.Show
	Seq  int64
}

// RecordService applies replayed client operations to the authoritative
// record store.
type RecordService struct {
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	maxLimit    int
}

// NewRecordService builds a service. maxLimit caps page sizes of Changes;
// values <= 0 fall back to MaxChangesLimit.
func NewRecordService(rm repomanager.RepositoryManager, l logging.Logger, maxLimit int) *RecordService {
	if maxLimit <= 0 {
		maxLimit = MaxChangesLimit
	}
	return &RecordService{
		repomanager: rm,
		logger:      l.With("module", "record_service"),
		maxLimit:    maxLimit,
	}
}

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrRejected, fmt.Sprintf(format, args...))
}

// Apply replays op on behalf of actor.
//
// create and update carry the full record; it is resolved against the
// stored copy by last-write-wins and the winner is kept. delete writes a
// tombstone and is idempotent. Invalid operations return common.ErrRejected.
func (s *RecordService) Apply(ctx context.Context, actor string, op models.Operation) (ApplyResult, error) {
	if !op.Type.Valid() {
		return ApplyResult{}, rejectf("unknown operation type %q", op.Type)
	}
	if op.ResourceType != models.ResourceTypeShow {
		return ApplyResult{}, rejectf("unknown resource type %q", op.ResourceType)
	}
	if op.ResourceID == "" {
		return ApplyResult{}, rejectf("missing resource id")
	}

	if op.Type == models.OperationDelete {
		return s.delete(ctx, actor, op.ResourceID)
	}

	incoming, err := decodeShow(op)
	if err != nil {
		return ApplyResult{}, err
	}

	var result ApplyResult
	err = s.repomanager.InTx(ctx, func(ctx context.Context, repo records.Repository) error {
		if err := repo.Lock(ctx, op.ResourceID); err != nil {
			return err
		}

		cur, err := repo.Get(ctx, op.ResourceID)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		if cur != nil && !cur.Deleted {
			outcome := conflict.Decide(*cur.Show, incoming)
			if outcome.Conflict {
				s.logger.Info(ctx, "conflict resolved", "id", op.ResourceID, "actor", actor, "winner", outcome.Winner.String())
			}
			if outcome.Winner == conflict.Local {
				result = ApplyResult{Show: cur.Show, Seq: cur.Seq}
				return nil
			}
		}

		seq, err := repo.Save(ctx, op.ResourceID, &incoming)
		if err != nil {
			return err
		}
		result = ApplyResult{Show: &incoming, Seq: seq}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	s.logger.Debug(ctx, "operation applied", "id", op.ResourceID, "type", string(op.Type), "actor", actor, "seq", result.Seq)
	return result, nil
}

func (s *RecordService) delete(ctx context.Context, actor, id string) (ApplyResult, error) {
	var result ApplyResult
	err := s.repomanager.InTx(ctx, func(ctx context.Context, repo records.Repository) error {
		if err := repo.Lock(ctx, id); err != nil {
			return err
		}

		cur, err := repo.Get(ctx, id)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			return nil
		case err != nil:
			return err
		case cur.Deleted:
			result.Seq = cur.Seq
			return nil
		}

		result.Seq, err = repo.Save(ctx, id, nil)
		return err
	})
	if err != nil {
		return ApplyResult{}, err
	}

	s.logger.Debug(ctx, "record deleted", "id", id, "actor", actor, "seq", result.Seq)
	return result, nil
}

func decodeShow(op models.Operation) (models.Show, error) {
	if len(op.Payload) == 0 {
		return models.Show{}, rejectf("%s without payload", op.Type)
	}

	var show models.Show
	if err := json.Unmarshal(op.Payload, &show); err != nil {
		return models.Show{}, rejectf("malformed payload: %v", err)
	}

	switch show.ID {
	case "":
		show.ID = op.ResourceID
	case op.ResourceID:
	default:
		return models.Show{}, rejectf("payload id %q does not match resource %q", show.ID, op.ResourceID)
	}
	return show, nil
}

// Changes returns records changed after since, oldest first, and the cursor
// to pass on the next call. The cursor equals since when nothing changed.
func (s *RecordService) Changes(ctx context.Context, since int64, limit int) ([]*records.Record, int64, error) {
	switch {
	case limit <= 0:
		limit = min(DefaultChangesLimit, s.maxLimit)
	case limit > s.maxLimit:
		limit = s.maxLimit
	}

	recs, err := s.repomanager.Records().ChangesSince(ctx, since, limit)
	if err != nil {
		return nil, since, err
	}

	cursor := since
	if n := len(recs); n > 0 {
		cursor = recs[n-1].Seq
	}
	return recs, cursor, nil
}
