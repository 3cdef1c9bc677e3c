// Package eventlog keeps a bounded, append-only trail of queue, sync and
// connectivity events for diagnostics.
package eventlog

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/dmitrijs2005/tourkeeper/internal/timex"
)

// DefaultCapacity is the number of events kept when no capacity is given.
const DefaultCapacity = 100

type Kind string

const (
	KindQueue        Kind = "queue"
	KindSync         Kind = "sync"
	KindConnectivity Kind = "connectivity"
	KindStorage      Kind = "storage"
	KindStore        Kind = "store"
)

type Event struct {
	Time    time.Time      `json:"time"`
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

func (e Event) String() string {
	s := fmt.Sprintf("%s [%s] %s", e.Time.Format(time.TimeOnly), e.Kind, e.Message)
	for _, k := range slices.Sorted(maps.Keys(e.Attrs)) {
		s += fmt.Sprintf(" %s=%v", k, e.Attrs[k])
	}
	return s
}

// Recorder is what producers of events depend on.
type Recorder interface {
	Record(ctx context.Context, kind Kind, msg string, args ...any)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Kind, string, ...any) {}

// Sink is a fixed-size ring of events. When full, the oldest event is
// overwritten. Every event is mirrored to the logger.
type Sink struct {
	mu    sync.Mutex
	buf   []Event
	start int
	size  int
	log   logging.Logger
	clock timex.Clock
}

func New(capacity int, log logging.Logger, clock timex.Clock) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logging.Nop()
	}
	if clock == nil {
		clock = timex.SystemClock{}
	}
	return &Sink{
		buf:   make([]Event, capacity),
		log:   log.With("module", "eventlog"),
		clock: clock,
	}
}

// Record appends an event. args are key/value pairs as with the logger; a
// trailing key without value is dropped.
func (s *Sink) Record(ctx context.Context, kind Kind, msg string, args ...any) {
	e := Event{Time: s.clock.Now(), Kind: kind, Message: msg}
	if len(args) > 1 {
		e.Attrs = make(map[string]any, len(args)/2)
		for i := 0; i+1 < len(args); i += 2 {
			e.Attrs[fmt.Sprint(args[i])] = args[i+1]
		}
	}

	s.mu.Lock()
	end := (s.start + s.size) % len(s.buf)
	s.buf[end] = e
	if s.size < len(s.buf) {
		s.size++
	} else {
		s.start = (s.start + 1) % len(s.buf)
	}
	s.mu.Unlock()

	s.log.Info(ctx, msg, append([]any{"kind", string(kind)}, args...)...)
}

// Events returns the stored events, oldest first.
func (s *Sink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, s.size)
	for i := range s.size {
		out[i] = s.buf[(s.start+i)%len(s.buf)]
	}
	return out
}

func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Sink) Cap() int { return len(s.buf) }

func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.buf)
	s.start, s.size = 0, 0
}
