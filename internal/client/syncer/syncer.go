// Package syncer replays the operation queue against the remote and folds
// remote changes back into the entity store.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/client/eventlog"
	"github.com/dmitrijs2005/tourkeeper/internal/client/queue"
	"github.com/dmitrijs2005/tourkeeper/internal/client/storage"
	"github.com/dmitrijs2005/tourkeeper/internal/client/store"
	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
	"github.com/dmitrijs2005/tourkeeper/internal/rpc"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultApplyTimeout = 10 * time.Second
	DefaultConcurrency  = 4
	DefaultPullLimit    = 200
)

// Remote is the authoritative store the queue is replayed against.
type Remote interface {
	// Apply returns the remote copy after the operation, nil for deletes.
	Apply(ctx context.Context, op models.Operation) (*models.Show, error)
	Changes(ctx context.Context, since int64, limit int) (rpc.ChangesResponse, error)
}

// Online reports whether the remote is believed reachable.
type Online interface {
	IsOnline() bool
}

type Options struct {
	Policy       RetryPolicy
	ApplyTimeout time.Duration
	Concurrency  int
	PullLimit    int
	// Cursor keeps the position in the remote change log. Nil disables
	// persistence of the cursor.
	Cursor storage.Storage
	Logger logging.Logger
	Events eventlog.Recorder
}

// Result summarizes one sync pass.
type Result struct {
	Skipped   bool
	Attempted int
	Synced    int
	Failed    int
}

type Driver struct {
	queue  *queue.Queue
	store  *store.Store
	remote Remote
	online Online

	policy       RetryPolicy
	applyTimeout time.Duration
	concurrency  int
	pullLimit    int
	cursor       storage.Storage
	log          logging.Logger
	events       eventlog.Recorder

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	pullMu sync.Mutex

	trigger chan struct{}

	seenMu sync.Mutex
	seen   map[string]struct{}
}

func New(q *queue.Queue, s *store.Store, r Remote, online Online, opts Options) *Driver {
	d := &Driver{
		queue:        q,
		store:        s,
		remote:       r,
		online:       online,
		policy:       opts.Policy,
		applyTimeout: opts.ApplyTimeout,
		concurrency:  opts.Concurrency,
		pullLimit:    opts.PullLimit,
		cursor:       opts.Cursor,
		log:          opts.Logger,
		events:       opts.Events,
		inflight:     make(map[string]struct{}),
		trigger:      make(chan struct{}, 1),
		seen:         make(map[string]struct{}),
	}
	if d.policy == (RetryPolicy{}) {
		d.policy = DefaultRetryPolicy()
	}
	if d.applyTimeout <= 0 {
		d.applyTimeout = DefaultApplyTimeout
	}
	if d.concurrency <= 0 {
		d.concurrency = DefaultConcurrency
	}
	if d.pullLimit <= 0 {
		d.pullLimit = DefaultPullLimit
	}
	if d.log == nil {
		d.log = logging.Nop()
	}
	d.log = d.log.With("module", "syncer")
	if d.events == nil {
		d.events = eventlog.Discard{}
	}
	return d
}

// claim marks ops as in flight and returns those no other pass owns.
func (d *Driver) claim(ops []models.Operation) []models.Operation {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	claimed := ops[:0]
	for _, op := range ops {
		if _, busy := d.inflight[op.ID]; busy {
			continue
		}
		d.inflight[op.ID] = struct{}{}
		claimed = append(claimed, op)
	}
	return claimed
}

func (d *Driver) release(id string) {
	d.inflightMu.Lock()
	delete(d.inflight, id)
	d.inflightMu.Unlock()
}

// SyncQueuedOperations replays the active operations once. It returns
// immediately when offline or when nothing is queued. Operations of the
// same resource are replayed in queue order; different resources run in
// parallel. Each outcome is recorded independently. Overlapping calls skip
// operations another call is already replaying.
func (d *Driver) SyncQueuedOperations(ctx context.Context) Result {
	if !d.online.IsOnline() {
		return Result{Skipped: true}
	}

	ops := d.claim(d.queue.GetQueued())
	if len(ops) == 0 {
		return Result{}
	}

	d.log.Info(ctx, "sync pass started", "operations", len(ops))
	d.events.Record(ctx, eventlog.KindSync, "sync pass started", "operations", len(ops))

	// group by resource, keeping FIFO order inside a group
	var order []string
	groups := make(map[string][]models.Operation)
	for _, op := range ops {
		key := op.ResourceType + "/" + op.ResourceID
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], op)
	}

	var (
		mu  sync.Mutex
		res Result
	)

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, key := range order {
		g.Go(func() error {
			for _, op := range groups[key] {
				out := d.replay(ctx, op)
				mu.Lock()
				switch out {
				case outcomeSynced:
					res.Synced++
				case outcomeFailed:
					res.Failed++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Attempted = res.Synced + res.Failed
	d.log.Info(ctx, "sync pass finished", "synced", res.Synced, "failed", res.Failed)
	d.events.Record(ctx, eventlog.KindSync, "sync pass finished", "synced", res.Synced, "failed", res.Failed)
	return res
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSynced
	outcomeFailed
)

func (d *Driver) replay(ctx context.Context, op models.Operation) outcome {
	defer d.release(op.ID)

	if ctx.Err() != nil {
		return outcomeSkipped
	}

	// another pass may have resolved or retried it between our snapshot
	// and claim
	cur, ok := d.queue.BeginApply(op.ID)
	if !ok {
		return outcomeSkipped
	}
	defer d.queue.EndApply(op.ID)
	if cur.RetryCount != op.RetryCount {
		return outcomeSkipped
	}
	op = cur

	applyCtx, cancel := context.WithTimeout(ctx, d.applyTimeout)
	rec, err := d.remote.Apply(applyCtx, op)
	cancel()

	if err != nil {
		// shutting down is not the operation's fault
		if ctx.Err() != nil {
			return outcomeSkipped
		}
		d.log.Warn(ctx, "apply failed", "op_id", op.ID, "error", err)
		d.queue.MarkFailed(ctx, op.ID, err)
		return outcomeFailed
	}

	d.queue.MarkSynced(ctx, op.ID)
	if rec != nil {
		if winner, changed := d.store.Reconcile(ctx, *rec); changed {
			d.log.Info(ctx, "remote copy applied", "id", winner.ID, "version", winner.Version)
		}
	}
	return outcomeSynced
}

// Trigger asks Run for a pass. It never blocks.
func (d *Driver) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// OnConnectivityChange is registered with the connectivity monitor: going
// online drains the queue once.
func (d *Driver) OnConnectivityChange(online bool) {
	if online {
		d.Trigger()
	}
}

// watchQueue triggers a pass when an operation shows up in the active set.
func (d *Driver) watchQueue(s queue.Snapshot) {
	d.seenMu.Lock()
	fresh := false
	next := make(map[string]struct{}, len(s.Queued))
	for _, op := range s.Queued {
		next[op.ID] = struct{}{}
		if _, ok := d.seen[op.ID]; !ok {
			fresh = true
		}
	}
	d.seen = next
	d.seenMu.Unlock()

	if fresh && d.online.IsOnline() {
		d.Trigger()
	}
}

// Run performs passes on Trigger, on reconnect, on new operations and, while
// failed operations remain active, on a backoff timer. It returns when ctx
// is done.
func (d *Driver) Run(ctx context.Context) {
	unsubscribe := d.queue.Subscribe(d.watchQueue)
	defer unsubscribe()

	backoff := d.policy.Backoff()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.trigger:
		case <-timer.C:
		}

		res := d.SyncQueuedOperations(ctx)
		if !res.Skipped {
			if _, err := d.Pull(ctx); err != nil {
				d.log.Warn(ctx, "pull failed", "error", err)
			}
		}

		timer.Stop()
		if res.Failed > 0 && d.queue.GetStats().QueuedCount > 0 {
			delay, stop := backoff.Next()
			if !stop {
				d.log.Debug(ctx, "next sync pass scheduled", "delay", delay)
				timer.Reset(delay)
			}
		} else if res.Failed == 0 {
			backoff = d.policy.Backoff()
		}
	}
}

// Pull fetches remote changes after the stored cursor and reconciles them
// into the store. Remote deletes are skipped for records that still have
// queued local operations. It returns the number of changes applied.
func (d *Driver) Pull(ctx context.Context) (int, error) {
	if !d.online.IsOnline() {
		return 0, nil
	}

	d.pullMu.Lock()
	defer d.pullMu.Unlock()

	cursor := d.loadCursor(ctx)
	applied := 0

	for {
		var resp rpc.ChangesResponse
		err := retry.Do(ctx, retry.WithMaxRetries(2, d.policy.Backoff()), func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, d.applyTimeout)
			defer cancel()

			var err error
			resp, err = d.remote.Changes(callCtx, cursor, d.pullLimit)
			if errors.Is(err, common.ErrUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		})
		if err != nil {
			d.events.Record(ctx, eventlog.KindSync, "pull failed", "error", err.Error())
			return applied, err
		}

		pending := d.pendingResources()
		for _, ch := range resp.Changes {
			if d.applyChange(ctx, ch, pending) {
				applied++
			}
		}

		if resp.Cursor <= cursor {
			break
		}
		cursor = resp.Cursor
		d.saveCursor(ctx, cursor)

		if len(resp.Changes) < d.pullLimit {
			break
		}
	}

	if applied > 0 {
		d.events.Record(ctx, eventlog.KindSync, "remote changes applied", "count", applied, "cursor", cursor)
	}
	return applied, nil
}

func (d *Driver) pendingResources() map[string]struct{} {
	pending := make(map[string]struct{})
	for _, op := range d.queue.GetQueued() {
		pending[op.ResourceID] = struct{}{}
	}
	return pending
}

func (d *Driver) applyChange(ctx context.Context, ch rpc.Change, pending map[string]struct{}) bool {
	if ch.Deleted {
		if _, ok := pending[ch.ID]; ok {
			return false
		}
		return d.store.Remove(ctx, ch.ID)
	}
	if ch.Record == nil {
		return false
	}
	_, changed := d.store.Reconcile(ctx, *ch.Record)
	return changed
}

func (d *Driver) loadCursor(ctx context.Context) int64 {
	if d.cursor == nil {
		return 0
	}

	data, err := d.cursor.Get(ctx, common.CursorStorageKey)
	if err != nil || data == nil {
		return 0
	}

	var c int64
	if err := json.Unmarshal(data, &c); err != nil {
		d.log.Warn(ctx, "malformed sync cursor, starting over", "error", err)
		return 0
	}
	return c
}

func (d *Driver) saveCursor(ctx context.Context, c int64) {
	if d.cursor == nil {
		return
	}
	if err := d.cursor.Set(ctx, common.CursorStorageKey, []byte(strconv.FormatInt(c, 10))); err != nil {
		d.log.Error(ctx, "failed to persist sync cursor", "error", err)
	}
}
