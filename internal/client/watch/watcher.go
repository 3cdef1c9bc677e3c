// Package watch reloads the entity store when another process changes the
// local database file.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/client/eventlog"
	"github.com/dmitrijs2005/tourkeeper/internal/logging"
	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 200 * time.Millisecond

// Reloader re-reads durable state and reports whether anything changed.
type Reloader interface {
	Reload(ctx context.Context) bool
}

type Options struct {
	Debounce time.Duration
	Logger   logging.Logger
	Events   eventlog.Recorder
}

// Watcher watches the directory of a database file. Writes to the file or
// its companions (path-wal, path-journal, path-shm) are coalesced over the
// debounce window into a single Reload.
type Watcher struct {
	path     string
	base     string
	target   Reloader
	debounce time.Duration
	log      logging.Logger
	events   eventlog.Recorder

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

func New(path string, target Reloader, opts Options) *Watcher {
	w := &Watcher{
		path:     path,
		base:     filepath.Base(path),
		target:   target,
		debounce: opts.Debounce,
		log:      opts.Logger,
		events:   opts.Events,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.log == nil {
		w.log = logging.Nop()
	}
	w.log = w.log.With("module", "watch")
	if w.events == nil {
		w.events = eventlog.Discard{}
	}
	return w
}

// Start begins watching. Events are processed until ctx is done or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return fmt.Errorf("watcher already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	w.watcher = fw
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.loop(ctx, fw, w.done)

	w.log.Info(ctx, "watching database", "path", w.path)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	fw := w.watcher
	if fw == nil {
		w.mu.Unlock()
		return nil
	}
	w.watcher = nil
	close(w.done)
	w.mu.Unlock()

	err := fw.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, done <-chan struct{}) {
	defer w.wg.Done()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if w.target.Reload(ctx) {
				w.events.Record(ctx, eventlog.KindStore, "reloaded from disk", "path", w.path)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.log.Warn(ctx, "watch error", "error", err.Error())
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	return name == w.base || strings.HasPrefix(name, w.base+"-")
}
