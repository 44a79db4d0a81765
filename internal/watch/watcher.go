// Package watch keeps an in-memory copy of a measurement log in step with
// its data file.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/evidense/internal/monitoring"
	"github.com/banshee-data/evidense/internal/storage"
)

// LogWatcher reloads a data file whenever it changes on disk. The run
// controller replaces the file by rename, so the containing directory is
// watched and events are filtered by file name.
type LogWatcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	log     *storage.Log
	lastErr error

	updates chan int
}

// New loads path and prepares a watcher for it. A missing file starts as an
// empty log; a file that does not parse is an error.
func New(path string) (*LogWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &LogWatcher{path: abs, updates: make(chan int, 1)}
	if err := w.Reload(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}
	w.watcher = fw
	return w, nil
}

// Path returns the absolute path of the watched file.
func (w *LogWatcher) Path() string { return w.path }

// Log returns the most recently loaded log. It is never nil and must be
// treated as read-only.
func (w *LogWatcher) Log() *storage.Log {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.log
}

// Err returns the error of the last reload attempt, if it failed. The
// previous log stays in place in that case.
func (w *LogWatcher) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// Updates delivers the record count after each successful reload. Only the
// latest count is kept when the reader falls behind.
func (w *LogWatcher) Updates() <-chan int { return w.updates }

// Reload reads the file now.
func (w *LogWatcher) Reload() error {
	l, err := storage.Load(nil, w.path)

	w.mu.Lock()
	w.lastErr = err
	switch {
	case err == nil:
		w.log = l
	case w.log == nil:
		w.log = storage.New()
	}
	w.mu.Unlock()

	if err != nil {
		return err
	}
	// Reload may run concurrently, so neither the drain nor the send may block.
	select {
	case <-w.updates:
	default:
	}
	select {
	case w.updates <- l.Count():
	default:
	}
	return nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *LogWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if err := w.Reload(); err != nil {
				// A writer that does not rename may be caught mid-write; the
				// next event retries.
				monitoring.Debugf("watch: reload %s: %v", w.path, err)
				continue
			}
			monitoring.Debugf("watch: reloaded %s (%d records)", w.path, w.Log().Count())
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			monitoring.Logf("watch: %s: %v", w.path, err)
		}
	}
}

// Close stops watching.
func (w *LogWatcher) Close() error {
	return w.watcher.Close()
}
