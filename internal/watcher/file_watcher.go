package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches a set of files through fsnotify, falling back to
// polling, and emits debounced batches.
type FileWatcher struct {
	paths map[string]struct{}
	dirs  []string
	opts  Options

	fsWatcher *fsnotify.Watcher
	poller    *PollingWatcher
	debouncer *Debouncer

	events  chan []FileEvent
	errors  chan error
	stopCh  chan struct{}
	mu      sync.RWMutex
	stopped bool
	dropped atomic.Uint64
}

// NewFileWatcher creates a watcher for paths. Paths need not exist yet, but
// their parent directories must.
func NewFileWatcher(paths []string, opts Options) (*FileWatcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("watcher: no files to watch")
	}
	opts = opts.WithDefaults()

	w := &FileWatcher{
		paths:     make(map[string]struct{}, len(paths)),
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 4),
		stopCh:    make(chan struct{}),
	}

	seenDir := make(map[string]bool)
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		if _, dup := w.paths[a]; dup {
			continue
		}
		w.paths[a] = struct{}{}
		abs = append(abs, a)
		if dir := filepath.Dir(a); !seenDir[dir] {
			seenDir[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			w.fsWatcher = fsw
			return w, nil
		}
		slog.Warn("fsnotify unavailable, polling instead", slog.String("error", err.Error()))
	}
	w.poller = NewPollingWatcher(abs, opts.PollInterval)
	return w, nil
}

// Start watches until ctx is done or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	go w.forward(ctx)

	if w.fsWatcher != nil {
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

func (w *FileWatcher) runFsnotify(ctx context.Context) error {
	for _, dir := range w.dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *FileWatcher) runPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case ev, ok := <-w.poller.Events():
				if !ok {
					return
				}
				w.debouncer.Add(ev)
			case err, ok := <-w.poller.Errors():
				if !ok {
					return
				}
				w.emitError(err)
			}
		}
	}()
	return w.poller.Start(ctx)
}

// handle maps an fsnotify event on a watched file to a FileEvent.
func (w *FileWatcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if _, ok := w.paths[path]; !ok {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}
	w.debouncer.Add(FileEvent{Path: path, Operation: op, Timestamp: time.Now()})
}

func (w *FileWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) > 0 {
				w.emit(batch)
			}
		}
	}
}

func (w *FileWatcher) emit(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		n := w.dropped.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", n))
	}
}

func (w *FileWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Events returns debounced batches. It is closed by Stop.
func (w *FileWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors. It is closed by Stop.
func (w *FileWatcher) Errors() <-chan error {
	return w.errors
}

// Mode reports "fsnotify" or "polling".
func (w *FileWatcher) Mode() string {
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

// DroppedBatches returns how many batches were dropped on a full buffer.
func (w *FileWatcher) DroppedBatches() uint64 {
	return w.dropped.Load()
}

// Stop releases resources and closes the output channels. Safe to call
// repeatedly.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	if w.poller != nil {
		_ = w.poller.Stop()
	}
	close(w.events)
	close(w.errors)
	return nil
}
