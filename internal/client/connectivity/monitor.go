// Package connectivity tracks whether the remote is reachable.
package connectivity

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/client/eventlog"
	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/dmitrijs2005/tourkeeper/internal/models"
	"github.com/dmitrijs2005/tourkeeper/internal/timex"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultTimeout  = 3 * time.Second
)

// Pinger probes the remote.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is called once per online/offline edge.
type Handler func(online bool)

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    timex.Clock
	Logger   logging.Logger
	Events   eventlog.Recorder
}

// Monitor holds the current ConnectivityState. It starts offline; the first
// successful probe (or SetOnline(true)) is the first transition.
type Monitor struct {
	mu    sync.Mutex
	state models.ConnectivityState

	// serializes handler calls so they observe transitions in order
	transitionMu sync.Mutex
	handlers     map[uint64]Handler
	nextHandler  uint64

	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	clock    timex.Clock
	log      logging.Logger
	events   eventlog.Recorder
}

func New(p Pinger, opts Options) *Monitor {
	m := &Monitor{
		handlers: make(map[uint64]Handler),
		pinger:   p,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		clock:    opts.Clock,
		log:      opts.Logger,
		events:   opts.Events,
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.clock == nil {
		m.clock = timex.SystemClock{}
	}
	if m.log == nil {
		m.log = logging.Nop()
	}
	m.log = m.log.With("module", "connectivity")
	if m.events == nil {
		m.events = eventlog.Discard{}
	}
	return m
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsOnline
}

func (m *Monitor) State() models.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnTransition registers h. The returned function unregisters it.
func (m *Monitor) OnTransition(h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextHandler
	m.nextHandler++
	m.handlers[id] = h

	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

// SetOnline records the observed state and reports whether it was a
// transition. Repeating the current state does nothing.
func (m *Monitor) SetOnline(ctx context.Context, online bool) bool {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.mu.Lock()
	if m.state.IsOnline == online {
		m.mu.Unlock()
		return false
	}

	now := timex.UnixMilli(m.clock)
	m.state.IsOnline = online
	if online {
		m.state.LastOnlineTime = now
	} else {
		m.state.LastOfflineTime = now
	}

	ids := make([]uint64, 0, len(m.handlers))
	for id := range m.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, m.handlers[id])
	}
	m.mu.Unlock()

	mode := "offline"
	if online {
		mode = "online"
	}
	m.log.Info(ctx, "switched mode", "mode", mode)
	m.events.Record(ctx, eventlog.KindConnectivity, "switched to "+mode)

	for _, h := range handlers {
		h(online)
	}
	return true
}

// Check pings the remote once and updates the state.
func (m *Monitor) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.pinger.Ping(pingCtx)
	cancel()

	if err != nil {
		m.log.Debug(ctx, "ping failed", "error", err)
	}
	m.SetOnline(ctx, err == nil)
	return err == nil
}

// Run probes the remote immediately and then every interval until ctx is
// done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)

	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}
