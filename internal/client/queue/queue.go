// Package queue is the durable outbox of mutations waiting to reach the
// remote.
//
// Operations live in one of two ordered sets. The active set is replayed
// in FIFO order by the sync driver. The failed set holds operations that
// reached the retry limit and wait for a manual Retry or Discard.
package queue

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/client/eventlog"
	"github.com/dmitrijs2005/tourkeeper/internal/client/storage"
	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
	"github.com/dmitrijs2005/tourkeeper/internal/timex"
)

// DefaultMaxRetries is the number of failed attempts after which an
// operation is parked in the failed set.
const DefaultMaxRetries = 3

// Stats summarizes the queue for display.
type Stats struct {
	IsOnline    bool `json:"isOnline"`
	QueuedCount int  `json:"queuedCount"`
	FailedCount int  `json:"failedCount"`
}

// Snapshot is the persisted form of the queue and the payload handed to
// subscribers.
type Snapshot struct {
	Queued    []models.Operation `json:"queued"`
	Failed    []models.Operation `json:"failed"`
	Timestamp int64              `json:"timestamp"`
}

type Listener func(Snapshot)

type Options struct {
	Key        string
	MaxRetries int
	// Coalesce replaces the payload of a pending update for the same
	// resource instead of appending a second update.
	Coalesce bool
	// Online reports connectivity for GetStats.
	Online func() bool
	// NewID overrides models.NewOperationID.
	NewID  func(resourceType, resourceID string, created time.Time) string
	Clock  timex.Clock
	Logger logging.Logger
	Events eventlog.Recorder
}

type Queue struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	queued []models.Operation
	failed []models.Operation
	// applying holds ids handed out by BeginApply; they are never coalesced into.
	applying map[string]struct{}

	subs    map[uint64]Listener
	nextSub uint64

	storage    storage.Storage
	key        string
	maxRetries int
	coalesce   bool
	online     func() bool
	newID      func(resourceType, resourceID string, created time.Time) string
	clock      timex.Clock
	log        logging.Logger
	events     eventlog.Recorder
}

// New creates a queue and loads the persisted snapshot. A missing or
// malformed snapshot yields an empty queue.
func New(ctx context.Context, st storage.Storage, opts Options) *Queue {
	q := &Queue{
		subs:       make(map[uint64]Listener),
		applying:   make(map[string]struct{}),
		storage:    st,
		key:        cmp.Or(opts.Key, common.QueueStorageKey),
		maxRetries: cmp.Or(opts.MaxRetries, DefaultMaxRetries),
		coalesce:   opts.Coalesce,
		online:     opts.Online,
		newID:      opts.NewID,
		clock:      opts.Clock,
		log:        opts.Logger,
		events:     opts.Events,
	}
	if q.online == nil {
		q.online = func() bool { return false }
	}
	if q.newID == nil {
		q.newID = models.NewOperationID
	}
	if q.clock == nil {
		q.clock = timex.SystemClock{}
	}
	if q.log == nil {
		q.log = logging.Nop()
	}
	q.log = q.log.With("module", "queue")
	if q.events == nil {
		q.events = eventlog.Discard{}
	}

	q.load(ctx)
	return q
}

func (q *Queue) load(ctx context.Context) {
	if q.storage == nil {
		return
	}

	data, err := q.storage.Get(ctx, q.key)
	if err != nil {
		q.log.Error(ctx, "failed to read queue", "key", q.key, "error", err)
		q.events.Record(ctx, eventlog.KindStorage, "queue read failed", "error", err.Error())
		return
	}
	if data == nil {
		return
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		q.log.Warn(ctx, "malformed queue snapshot, starting empty", "key", q.key, "error", err)
		q.events.Record(ctx, eventlog.KindStorage, "malformed queue snapshot ignored")
		return
	}

	q.queued = validOps(snap.Queued)
	q.failed = validOps(snap.Failed)
	q.log.Info(ctx, "queue restored", "queued", len(q.queued), "failed", len(q.failed))
}

// validOps drops entries that cannot be replayed.
func validOps(ops []models.Operation) []models.Operation {
	return slices.DeleteFunc(ops, func(op models.Operation) bool {
		return op.ID == "" || op.ResourceID == "" || !op.Type.Valid()
	})
}

func (q *Queue) MaxRetries() int { return q.maxRetries }

// Enqueue records a new pending operation.
func (q *Queue) Enqueue(ctx context.Context, typ models.OperationType, resourceType, resourceID string, payload json.RawMessage) models.Operation {
	now := q.clock.Now()

	q.mu.Lock()

	if q.coalesce && typ == models.OperationUpdate {
		i := slices.IndexFunc(q.queued, func(op models.Operation) bool {
			_, busy := q.applying[op.ID]
			return !busy && op.Type == models.OperationUpdate && op.Status == models.StatusPending &&
				op.ResourceType == resourceType && op.ResourceID == resourceID
		})
		if i >= 0 {
			q.queued[i].Payload = slices.Clone(payload)
			op := q.queued[i].Clone()
			q.events.Record(ctx, eventlog.KindQueue, "operation coalesced", "op_id", op.ID, "resource_id", resourceID)
			q.commit(ctx)
			return op
		}
	}

	op := models.Operation{
		ID:           q.newID(resourceType, resourceID, now),
		Type:         typ,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      slices.Clone(payload),
		Status:       models.StatusPending,
		Timestamp:    now.UnixMilli(),
	}
	q.queued = append(q.queued, op)
	q.events.Record(ctx, eventlog.KindQueue, "operation enqueued",
		"op_id", op.ID, "type", string(typ), "resource_id", resourceID)
	q.commit(ctx)

	return op.Clone()
}

func indexOf(ops []models.Operation, id string) int {
	return slices.IndexFunc(ops, func(op models.Operation) bool { return op.ID == id })
}

// BeginApply returns the current state of an active operation and marks it
// as being applied: until EndApply, Enqueue appends a new update for the
// same resource instead of rewriting this one. It reports false when the
// operation is no longer active.
func (q *Queue) BeginApply(id string) (models.Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := indexOf(q.queued, id)
	if i < 0 {
		return models.Operation{}, false
	}
	q.applying[id] = struct{}{}
	return q.queued[i].Clone(), true
}

func (q *Queue) EndApply(id string) {
	q.mu.Lock()
	delete(q.applying, id)
	q.mu.Unlock()
}

// MarkSynced removes a completed operation. Unknown ids are ignored, so a
// late duplicate completion is harmless.
func (q *Queue) MarkSynced(ctx context.Context, id string) bool {
	q.mu.Lock()

	i := indexOf(q.queued, id)
	if i < 0 {
		q.mu.Unlock()
		return false
	}

	q.queued = slices.Delete(q.queued, i, i+1)
	q.events.Record(ctx, eventlog.KindQueue, "operation synced", "op_id", id)
	q.commit(ctx)
	return true
}

// MarkFailed records a failed attempt. Once the retry count reaches the
// limit the operation moves to the failed set. Unknown ids are ignored.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) bool {
	q.mu.Lock()

	i := indexOf(q.queued, id)
	if i < 0 {
		q.mu.Unlock()
		return false
	}

	op := q.queued[i]
	op.RetryCount++
	if cause != nil {
		op.LastError = cause.Error()
	}

	if op.RetryCount >= q.maxRetries {
		op.Status = models.StatusFailed
		q.queued = slices.Delete(q.queued, i, i+1)
		q.failed = append(q.failed, op)
		q.events.Record(ctx, eventlog.KindQueue, "operation failed permanently",
			"op_id", id, "retry_count", op.RetryCount, "error", op.LastError)
	} else {
		op.Status = models.StatusRetrying
		q.queued[i] = op
		q.events.Record(ctx, eventlog.KindQueue, "operation failed, will retry",
			"op_id", id, "retry_count", op.RetryCount, "error", op.LastError)
	}

	q.commit(ctx)
	return true
}

// Retry moves an operation from the failed set back to the end of the
// active set. The retry count is kept, so a re-armed operation that fails
// again returns to the failed set after a single attempt.
func (q *Queue) Retry(ctx context.Context, id string) bool {
	q.mu.Lock()

	i := indexOf(q.failed, id)
	if i < 0 {
		q.mu.Unlock()
		return false
	}

	op := q.failed[i]
	op.Status = models.StatusRetrying
	op.LastRetry = timex.UnixMilli(q.clock)
	q.failed = slices.Delete(q.failed, i, i+1)
	q.queued = append(q.queued, op)

	q.events.Record(ctx, eventlog.KindQueue, "operation re-armed", "op_id", id)
	q.commit(ctx)
	return true
}

// Discard drops an operation from the failed set for good.
func (q *Queue) Discard(ctx context.Context, id string) bool {
	q.mu.Lock()

	i := indexOf(q.failed, id)
	if i < 0 {
		q.mu.Unlock()
		return false
	}

	q.failed = slices.Delete(q.failed, i, i+1)
	q.events.Record(ctx, eventlog.KindQueue, "operation discarded", "op_id", id)
	q.commit(ctx)
	return true
}

// Get looks an operation up in both sets.
func (q *Queue) Get(id string) (models.Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := indexOf(q.queued, id); i >= 0 {
		return q.queued[i].Clone(), true
	}
	if i := indexOf(q.failed, id); i >= 0 {
		return q.failed[i].Clone(), true
	}
	return models.Operation{}, false
}

// GetQueued returns the active operations in replay order.
func (q *Queue) GetQueued() []models.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneOps(q.queued)
}

func (q *Queue) GetFailed() []models.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneOps(q.failed)
}

func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats()
}

func (q *Queue) stats() Stats {
	return Stats{IsOnline: q.online(), QueuedCount: len(q.queued), FailedCount: len(q.failed)}
}

// Clear empties both sets and erases the persisted queue.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()

	q.queued, q.failed = nil, nil
	if q.storage != nil {
		if err := q.storage.Delete(ctx, q.key); err != nil {
			q.log.Error(ctx, "failed to erase queue", "key", q.key, "error", err)
			q.events.Record(ctx, eventlog.KindStorage, "queue erase failed", "error", err.Error())
		}
	}
	q.events.Record(ctx, eventlog.KindQueue, "queue cleared")

	q.notify()
}

// ClearQueue is an alias of Clear.
func (q *Queue) ClearQueue(ctx context.Context) { q.Clear(ctx) }

// Subscribe registers l and calls it immediately with the current state.
// The returned function unregisters it.
func (q *Queue) Subscribe(l Listener) func() {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = l
	snap := q.snapshot()

	q.notifyMu.Lock()
	q.mu.Unlock()
	l(snap)
	q.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.subs, id)
			q.mu.Unlock()
		})
	}
}

func (q *Queue) snapshot() Snapshot {
	return Snapshot{
		Queued:    cloneOps(q.queued),
		Failed:    cloneOps(q.failed),
		Timestamp: timex.UnixMilli(q.clock),
	}
}

func cloneOps(ops []models.Operation) []models.Operation {
	out := make([]models.Operation, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}

// commit persists and notifies. It must be called with q.mu held and
// releases it.
func (q *Queue) commit(ctx context.Context) {
	snap := q.snapshot()
	q.persist(ctx, snap)
	q.notifyWith(snap)
}

func (q *Queue) persist(ctx context.Context, snap Snapshot) {
	if q.storage == nil {
		return
	}

	data, err := json.Marshal(snap)
	if err == nil {
		err = q.storage.Set(ctx, q.key, data)
	}
	if err != nil {
		q.log.Error(ctx, "failed to persist queue, continuing in memory", "key", q.key, "error", err)
		q.events.Record(ctx, eventlog.KindStorage, "queue write failed", "error", err.Error())
	}
}

func (q *Queue) notify() {
	q.notifyWith(q.snapshot())
}

// notifyWith must be called with q.mu held and releases it.
func (q *Queue) notifyWith(snap Snapshot) {
	ids := make([]uint64, 0, len(q.subs))
	for id := range q.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, q.subs[id])
	}

	q.notifyMu.Lock()
	q.mu.Unlock()
	defer q.notifyMu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}
