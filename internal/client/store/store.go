// Package store holds the client's observable collection of shows.
//
// Every mutation stamps the record (version, modifiedAt, modifiedBy),
// persists the full snapshot and only then notifies subscribers. Storage
// failures are logged and swallowed: the store keeps working in memory.
//
// Subscribers are called synchronously, in mutation order, while the store
// serializes notifications. A subscriber must not call back into a mutating
// method from the same goroutine.
package store

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/dmitrijs2005/tourkeeper/internal/client/eventlog"
	"github.com/dmitrijs2005/tourkeeper/internal/client/storage"
	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/conflict"
	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
	"github.com/dmitrijs2005/tourkeeper/internal/timex"
	"github.com/google/uuid"
)

// Listener receives the full, sorted collection.
type Listener func(shows []models.Show)

type Options struct {
	// Key is the storage key of the snapshot, common.ShowsStorageKey by default.
	Key string
	// Actor returns the id stamped into ModifiedBy.
	Actor  func() string
	Clock  timex.Clock
	Logger logging.Logger
	Events eventlog.Recorder
}

type Store struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	shows []models.Show
	// saved is the last snapshot known to be in storage, by id.
	saved map[string]models.Show

	subs    map[uint64]Listener
	nextSub uint64

	storage storage.Storage
	key     string
	actor   func() string
	clock   timex.Clock
	log     logging.Logger
	events  eventlog.Recorder
}

// New creates a store and loads the persisted snapshot. A missing or
// malformed snapshot yields an empty store.
func New(ctx context.Context, st storage.Storage, opts Options) *Store {
	s := &Store{
		subs:    make(map[uint64]Listener),
		storage: st,
		key:     cmp.Or(opts.Key, common.ShowsStorageKey),
		actor:   opts.Actor,
		clock:   opts.Clock,
		log:     opts.Logger,
		events:  opts.Events,
	}
	if s.actor == nil {
		s.actor = func() string { return "local" }
	}
	if s.clock == nil {
		s.clock = timex.SystemClock{}
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	s.log = s.log.With("module", "store")
	if s.events == nil {
		s.events = eventlog.Discard{}
	}

	s.shows, _ = s.load(ctx)
	s.saved = indexByID(s.shows)
	return s
}

func (s *Store) load(ctx context.Context) ([]models.Show, bool) {
	if s.storage == nil {
		return nil, false
	}

	data, err := s.storage.Get(ctx, s.key)
	if err != nil {
		s.log.Error(ctx, "failed to read snapshot", "key", s.key, "error", err)
		s.events.Record(ctx, eventlog.KindStorage, "snapshot read failed", "key", s.key, "error", err.Error())
		return nil, false
	}
	if data == nil {
		return nil, true
	}

	var shows []models.Show
	if err := json.Unmarshal(data, &shows); err != nil {
		s.log.Warn(ctx, "malformed snapshot, starting empty", "key", s.key, "error", err)
		s.events.Record(ctx, eventlog.KindStorage, "malformed snapshot ignored", "key", s.key)
		return nil, false
	}

	sortShows(shows)
	return shows, true
}

func sortShows(shows []models.Show) {
	slices.SortStableFunc(shows, func(a, b models.Show) int {
		return cmp.Or(cmp.Compare(a.Date, b.Date), cmp.Compare(a.ID, b.ID))
	})
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.shows, func(sh models.Show) bool { return sh.ID == id })
}

// GetAll returns a copy of the collection sorted by date, then id.
func (s *Store) GetAll() []models.Show {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.shows)
}

func (s *Store) GetByID(id string) (models.Show, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.Show{}, false
	}
	return s.shows[i], true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shows)
}

// normalize fills in the stamp of a record entering the store from outside
// the mutation path. Existing stamps are kept.
func (s *Store) normalize(sh models.Show) models.Show {
	if sh.ID == "" {
		sh.ID = uuid.NewString()
	}
	if sh.Version < 0 {
		sh.Version = 0
	}
	if sh.ModifiedAt <= 0 {
		sh.ModifiedAt = timex.UnixMilli(s.clock)
	}
	if sh.ModifiedBy == "" {
		sh.ModifiedBy = s.actor()
	}
	return sh
}

// SetAll replaces the collection. Records are normalized; when an id occurs
// more than once the last occurrence is kept.
func (s *Store) SetAll(ctx context.Context, shows []models.Show) {
	s.mu.Lock()
	s.shows = s.dedupe(shows)
	s.commit(ctx)
}

func (s *Store) dedupe(shows []models.Show) []models.Show {
	out := make([]models.Show, 0, len(shows))
	pos := make(map[string]int, len(shows))
	for _, sh := range shows {
		sh = s.normalize(sh)
		if i, ok := pos[sh.ID]; ok {
			out[i] = sh
			continue
		}
		pos[sh.ID] = len(out)
		out = append(out, sh)
	}
	sortShows(out)
	return out
}

// Add appends a record and returns it as stored.
func (s *Store) Add(ctx context.Context, sh models.Show) models.Show {
	sh = s.normalize(sh)

	s.mu.Lock()
	s.shows = s.dedupe(append(slices.Clone(s.shows), sh))
	s.commit(ctx)

	return sh
}

// Update applies the allow-listed patch to the record with the given id.
// A missing id is a no-op and reports false.
func (s *Store) Update(ctx context.Context, id string, patch models.ShowPatch) (models.Show, bool) {
	s.mu.Lock()

	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return models.Show{}, false
	}

	sh := s.shows[i]
	patch.Apply(&sh)

	// modifiedAt never goes backwards, even if the wall clock does
	sh.Version++
	sh.ModifiedAt = max(timex.UnixMilli(s.clock), sh.ModifiedAt)
	sh.ModifiedBy = s.actor()

	s.shows[i] = sh
	sortShows(s.shows)
	s.commit(ctx)

	return sh, true
}

// Remove deletes the record. A missing id is a no-op and reports false.
func (s *Store) Remove(ctx context.Context, id string) bool {
	s.mu.Lock()

	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}

	s.shows = slices.Delete(slices.Clone(s.shows), i, i+1)
	s.commit(ctx)
	return true
}

// Put stores sh verbatim, replacing any record with the same id. It is used
// to apply a record that won conflict resolution, so the stamp is not
// advanced.
func (s *Store) Put(ctx context.Context, sh models.Show) {
	s.mu.Lock()
	s.put(sh)
	s.commit(ctx)
}

func (s *Store) put(sh models.Show) {
	if i := s.indexOf(sh.ID); i >= 0 {
		s.shows[i] = sh
	} else {
		s.shows = append(s.shows, sh)
	}
	sortShows(s.shows)
}

// Reconcile resolves remote against the local copy with last-write-wins
// and stores the winner. It returns the winner and whether the store
// changed.
func (s *Store) Reconcile(ctx context.Context, remote models.Show) (models.Show, bool) {
	s.mu.Lock()

	i := s.indexOf(remote.ID)
	if i < 0 {
		s.put(remote)
		s.commit(ctx)
		return remote, true
	}

	local := s.shows[i]
	out := conflict.Decide(local, remote)
	if out.Conflict {
		s.events.Record(ctx, eventlog.KindStore, "conflict resolved",
			"id", remote.ID, "winner", out.Winner.String(),
			"local_version", local.Version, "remote_version", remote.Version)
	}

	if out.Winner != conflict.Remote || local == remote {
		s.mu.Unlock()
		return local, false
	}

	s.shows[i] = remote
	sortShows(s.shows)
	s.commit(ctx)
	return remote, true
}

// Reload re-reads the persisted snapshot, e.g. after another process wrote
// it. Each stored record is reconciled with the local copy. Local records
// absent from the snapshot are dropped unless they changed since the last
// successful write. Subscribers are notified only when memory changed; the
// merged result is written back whenever the local side won somewhere,
// even if memory did not change.
func (s *Store) Reload(ctx context.Context) bool {
	s.mu.Lock()

	stored, ok := s.load(ctx)
	if !ok {
		s.mu.Unlock()
		return false
	}

	local := indexByID(s.shows)
	storedIDs := indexByID(stored)
	pending := s.unsaved()

	merged := make([]models.Show, 0, len(stored)+len(pending))
	writeBack := false
	for _, sh := range stored {
		l, ok := local[sh.ID]
		switch {
		case ok:
			winner := conflict.Resolve(l, sh)
			if winner != sh {
				writeBack = true
			}
			sh = winner
		case s.removedUnsaved(sh):
			// deleted here, the write never reached storage
			writeBack = true
			continue
		}
		merged = append(merged, sh)
	}
	for _, l := range pending {
		if _, ok := storedIDs[l.ID]; !ok {
			merged = append(merged, l)
			writeBack = true
		}
	}
	sortShows(merged)

	s.saved = storedIDs
	changed := !slices.Equal(merged, s.shows)
	s.shows = merged

	if writeBack {
		s.persist(ctx)
	}
	if !changed {
		s.mu.Unlock()
		return false
	}

	s.notify()
	s.events.Record(ctx, eventlog.KindStore, "reloaded from storage", "count", len(merged))
	return true
}

// unsaved returns the local records that differ from the last snapshot
// known to be in storage.
func (s *Store) unsaved() []models.Show {
	var out []models.Show
	for _, sh := range s.shows {
		if prev, ok := s.saved[sh.ID]; !ok || prev != sh {
			out = append(out, sh)
		}
	}
	return out
}

// removedUnsaved reports whether sh was deleted locally after the last
// successful write and nobody touched it in storage since.
func (s *Store) removedUnsaved(sh models.Show) bool {
	prev, ok := s.saved[sh.ID]
	return ok && prev == sh
}

func indexByID(shows []models.Show) map[string]models.Show {
	m := make(map[string]models.Show, len(shows))
	for _, sh := range shows {
		m[sh.ID] = sh
	}
	return m
}

// Subscribe registers l and calls it immediately with the current
// collection. The returned function unregisters it and may be called more
// than once.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = l
	snapshot := slices.Clone(s.shows)

	s.notifyMu.Lock()
	s.mu.Unlock()
	l(snapshot)
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// commit persists the snapshot and notifies subscribers. It must be called
// with s.mu held and releases it.
func (s *Store) commit(ctx context.Context) {
	s.persist(ctx)
	s.notify()
}

func (s *Store) persist(ctx context.Context) {
	if s.storage == nil {
		return
	}

	shows := s.shows
	if shows == nil {
		shows = []models.Show{}
	}

	data, err := json.Marshal(shows)
	if err == nil {
		err = s.storage.Set(ctx, s.key, data)
	}
	if err != nil {
		s.log.Error(ctx, "failed to persist snapshot, continuing in memory", "key", s.key, "error", err)
		s.events.Record(ctx, eventlog.KindStorage, "snapshot write failed", "key", s.key, "error", err.Error())
		return
	}
	s.saved = indexByID(shows)
}

// notify must be called with s.mu held and releases it. Holding notifyMu
// across the hand-over keeps notifications in mutation order.
func (s *Store) notify() {
	snapshot := slices.Clone(s.shows)
	listeners := make([]Listener, 0, len(s.subs))
	for _, id := range sortedKeys(s.subs) {
		listeners = append(listeners, s.subs[id])
	}

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, l := range listeners {
		l(slices.Clone(snapshot))
	}
}

func sortedKeys(m map[uint64]Listener) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
