package entities

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"cookiescope/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher serves lookups from an entities file and reloads it when it changes.
// A file that fails to parse leaves the previous table in place.
type Watcher struct {
	path  string
	table atomic.Pointer[Table]

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	pending     time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	reloads     int
	errors      int
}

// NewWatcher loads path and prepares to watch it. Call Start to begin watching.
func NewWatcher(path string) (*Watcher, error) {
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:        path,
		watcher:     fw,
		debounceDur: 200 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	w.table.Store(t)
	return w, nil
}

// Table returns the current table.
func (w *Watcher) Table() *Table { return w.table.Load() }

// Lookup resolves rawURL against the current table.
func (w *Watcher) Lookup(rawURL string) (*Entity, bool) {
	return w.table.Load().Lookup(rawURL)
}

// Reloads returns how many successful reloads happened since Start.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Start watches the directory holding the file, so that editors which replace the
// file on save are picked up too. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	logging.Entities("watching entities file %s", w.path)

	go w.run(ctx)
	return nil
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.EntitiesError("error closing entities watcher: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.EntitiesError("entities watcher error: %v", err)
			w.mu.Lock()
			w.errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounceDur
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if due {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	t, err := Load(w.path)
	if err != nil {
		logging.EntitiesWarn("keeping previous entities table: %v", err)
		w.mu.Lock()
		w.errors++
		w.mu.Unlock()
		return
	}
	w.table.Store(t)
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	logging.Entities("reloaded %d entities from %s", t.Len(), w.path)
}
