// Package watcher reacts to cut sheet changes in the library directory.
// It watches recursively with fsnotify and coalesces bursts of events
// (editors and download managers write in many small steps) into one
// debounced batch per quiet period.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/cutsync/pkg/cutsync/logging"
)

// DefaultDebounce is the quiet period before a batch of changes is
// delivered.
const DefaultDebounce = 2 * time.Second

// Options configure a watcher.
type Options struct {
	// Debounce is the quiet period before OnBatch fires. Zero selects
	// DefaultDebounce.
	Debounce time.Duration

	// OnBatch receives the deduplicated set of changed PDF paths once
	// the debounce window closes. Called from the watcher's goroutine.
	OnBatch func(paths []string)
}

// Watcher watches a library tree for PDF changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	opts    Options
	logger  *logging.Logger

	mu      sync.Mutex
	paths   map[string]bool
	pending map[string]bool
	timer   *time.Timer
	closed  bool
}

// New creates a watcher. Close releases its resources.
func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Watcher{
		watcher: fsw,
		opts:    opts,
		logger:  logging.Get("watch"),
		paths:   make(map[string]bool),
		pending: make(map[string]bool),
	}, nil
}

// Watch starts watching root and every directory under it. Symlinks are
// not followed.
func (w *Watcher) Watch(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	info, err := os.Lstat(absRoot)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return w.addWatch(path)
		}
		return nil
	})
}

// addWatch adds a single directory to the watch set.
func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("failed to add watch", "path", path, "error", err)
		return err
	}
	w.paths[path] = true
	return nil
}

// Run processes events until the context is cancelled. Pending changes
// that have not reached their quiet period when the context ends are
// dropped.
func (w *Watcher) Run(ctx context.Context) {
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

// handleEvent queues PDF changes and keeps the watch set in step with
// directory churn.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	switch {
	case event.Op&fsnotify.Create != 0:
		w.handleCreate(event.Name)
	case event.Op&fsnotify.Write != 0:
		if isPDF(event.Name) {
			w.queue(event.Name)
		}
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.dropWatches(event.Name)
		if isPDF(event.Name) {
			w.queue(event.Name)
		}
	}
}

// handleCreate watches new directories (including any subtree created in
// one move) and queues new PDFs.
func (w *Watcher) handleCreate(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return
	}

	if info.IsDir() {
		_ = w.addWatch(path)
		_ = filepath.WalkDir(path, func(subpath string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			if d.IsDir() && subpath != path {
				_ = w.addWatch(subpath)
			}
			return nil
		})
		return
	}

	if isPDF(path) {
		w.queue(path)
	}
}

// queue adds a path to the pending batch and arms the debounce timer.
func (w *Watcher) queue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.pending[path] = true
	if w.timer == nil {
		w.timer = time.AfterFunc(w.opts.Debounce, w.flush)
	} else {
		w.timer.Reset(w.opts.Debounce)
	}
}

// flush delivers the pending batch.
func (w *Watcher) flush() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.timer = nil
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]bool)
	w.timer = nil
	w.mu.Unlock()

	sort.Strings(paths)
	w.logger.Debug("change batch", "paths", len(paths))
	if w.opts.OnBatch != nil {
		w.opts.OnBatch(paths)
	}
}

// dropWatches removes path and all watches under it from the watch set.
func (w *Watcher) dropWatches(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	for watched := range w.paths {
		if watched == path || isSubPath(watched, path) {
			_ = w.watcher.Remove(watched)
			delete(w.paths, watched)
		}
	}
}

// stopTimer stops a pending debounce without firing it.
func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.paths = make(map[string]bool)
	return w.watcher.Close()
}

// isPDF matches the .pdf extension case-insensitively.
func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// isSubPath checks whether path is under parent.
func isSubPath(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+string(filepath.Separator)
}
