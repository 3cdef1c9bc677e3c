package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/tourkeeper/internal/client/config"
	"github.com/dmitrijs2005/tourkeeper/internal/client/connectivity"
	"github.com/dmitrijs2005/tourkeeper/internal/client/eventlog"
	"github.com/dmitrijs2005/tourkeeper/internal/client/notify"
	"github.com/dmitrijs2005/tourkeeper/internal/client/queue"
	"github.com/dmitrijs2005/tourkeeper/internal/client/remote"
	"github.com/dmitrijs2005/tourkeeper/internal/client/storage"
	"github.com/dmitrijs2005/tourkeeper/internal/client/store"
	"github.com/dmitrijs2005/tourkeeper/internal/client/syncer"
	"github.com/dmitrijs2005/tourkeeper/internal/client/watch"
	"github.com/dmitrijs2005/tourkeeper/internal/common"
	"github.com/dmitrijs2005/tourkeeper/internal/filex"
	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/google/uuid"
)

type Mode string

const (
	ModeOffline  Mode = "offline"
	ModeOnline   Mode = "online"
	ModeDisabled Mode = "disabled"
)

var errManualOffline = errors.New("offline mode enabled")

// Remote is the server as seen by the client: a pinger for the
// connectivity monitor and the target of the sync driver.
type Remote interface {
	connectivity.Pinger
	syncer.Remote
}

// gatedPinger reports the server as unreachable while the user has
// switched to offline mode.
type gatedPinger struct {
	next    connectivity.Pinger
	offline *atomic.Bool
}

func (p gatedPinger) Ping(ctx context.Context) error {
	if p.offline.Load() {
		return errManualOffline
	}
	return p.next.Ping(ctx)
}

type App struct {
	config *config.Config
	logger logging.Logger

	out     io.Writer
	scanner *bufio.Scanner

	events  *eventlog.Sink
	shows   *store.Store
	queue   *queue.Queue
	monitor *connectivity.Monitor
	driver  *syncer.Driver

	watcher  *watch.Watcher
	notifier *notify.Server

	manualOffline atomic.Bool
	closers       []func() error
}

// NewApp opens the local database, identifies this device and connects the
// sync core to the server. When the database cannot be opened the client
// runs on in-memory storage and nothing survives a restart.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	var (
		st      storage.Storage
		closers []func() error
		durable bool
	)

	dbPath, err := filex.EnsureParentDir(c.DatabasePath)
	var db *storage.SQLiteStorage
	if err == nil {
		db, err = storage.OpenSQLite(ctx, dbPath)
	}
	if err != nil {
		logger.Warn(ctx, "local database unavailable, using memory", "path", c.DatabasePath, "error", err)
		st = storage.NewMemory()
	} else {
		st = db
		durable = true
		closers = append(closers, db.Close)
	}

	actor, err := loadActorID(ctx, st)
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	rc, err := remote.NewGRPCClient(c.ServerEndpointAddr, actor, []byte(c.SecretKey))
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("server client: %w", err)
	}
	// remote goes first so no call is in flight when storage closes
	closers = append([]func() error{rc.Close}, closers...)

	a := newApp(ctx, c, logger, st, rc, actor)
	a.closers = closers

	if durable {
		a.watcher = watch.New(dbPath, a.shows, watch.Options{Logger: logger, Events: a.events})
	}
	if c.NotifyAddr != "" {
		a.notifier = notify.New(notify.Options{Logger: logger})
	}

	return a, nil
}

// newApp builds the sync core over st and r.
func newApp(ctx context.Context, c *config.Config, logger logging.Logger, st storage.Storage, r Remote, actor string) *App {
	a := &App{
		config:  c,
		logger:  logger.With("module", "cli"),
		out:     os.Stdout,
		scanner: bufio.NewScanner(os.Stdin),
	}

	a.events = eventlog.New(c.EventLogCapacity, logger, nil)

	a.monitor = connectivity.New(gatedPinger{next: r, offline: &a.manualOffline}, connectivity.Options{
		Interval: c.OnlineCheckInterval,
		Logger:   logger,
		Events:   a.events,
	})

	a.shows = store.New(ctx, st, store.Options{
		Actor:  func() string { return actor },
		Logger: logger,
		Events: a.events,
	})

	a.queue = queue.New(ctx, st, queue.Options{
		MaxRetries: c.MaxRetries,
		Coalesce:   c.CoalesceUpdates,
		Online:     a.monitor.IsOnline,
		Logger:     logger,
		Events:     a.events,
	})

	a.driver = syncer.New(a.queue, a.shows, r, a.monitor, syncer.Options{
		Policy:       syncer.DefaultRetryPolicy(),
		ApplyTimeout: c.ApplyTimeout,
		Cursor:       st,
		Logger:       logger,
		Events:       a.events,
	})

	a.monitor.OnTransition(a.driver.OnConnectivityChange)

	return a
}

// loadActorID returns the id of this device, creating it on first run.
func loadActorID(ctx context.Context, st storage.Storage) (string, error) {
	raw, err := st.Get(ctx, common.ActorStorageKey)
	if err != nil {
		return "", fmt.Errorf("read actor id: %w", err)
	}
	if len(raw) > 0 {
		return string(raw), nil
	}

	id := uuid.NewString()
	if err := st.Set(ctx, common.ActorStorageKey, []byte(id)); err != nil {
		return "", fmt.Errorf("store actor id: %w", err)
	}
	return id, nil
}

func (a *App) mode() Mode {
	switch {
	case a.manualOffline.Load():
		return ModeDisabled
	case a.monitor.IsOnline():
		return ModeOnline
	default:
		return ModeOffline
	}
}

func (a *App) getStatus() string {
	s := a.queue.GetStats()
	return fmt.Sprintf("(%s q:%d f:%d)", a.mode(), s.QueuedCount, s.FailedCount)
}

// Run starts the background workers and the REPL. It returns when the user
// exits or the input ends.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.driver.Run(ctx)
	}()

	watching := false
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			a.logger.Warn(ctx, "file watcher disabled", "error", err)
		} else {
			watching = true
		}
	}

	detach := func() {}
	if a.notifier != nil {
		detach = a.notifier.Attach(a.shows, a.queue, a.monitor)
		if err := a.notifier.Start(a.config.NotifyAddr); err != nil {
			a.logger.Warn(ctx, "notifications disabled", "error", err)
		} else {
			printlnFn(fmt.Sprintf("Notifications on ws://%s/ws", a.notifier.Addr()))
		}
	}

	printlnFn("Welcome to tourkeeper (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.scanner, isTerminal())

	cancel()
	wg.Wait()

	if watching {
		_ = a.watcher.Stop()
	}
	detach()

	return a.Close()
}

// Close releases the notification server, the server connection and the
// local database.
func (a *App) Close() error {
	var errs []error
	if a.notifier != nil {
		errs = append(errs, a.notifier.Stop())
	}
	errs = append(errs, closeAll(a.closers))
	a.closers = nil
	return errors.Join(errs...)
}

func closeAll(closers []func() error) error {
	var errs []error
	for _, c := range closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
