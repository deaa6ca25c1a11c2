package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// PollingWatcher detects changes to a fixed set of files by comparing size
// and modification time on every tick.
type PollingWatcher struct {
	paths    []string
	interval time.Duration
	state    map[string]fileState
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}
	mu       sync.Mutex
	stopped  bool
}

type fileState struct {
	exists  bool
	modTime time.Time
	size    int64
}

// NewPollingWatcher creates a poller for absolute paths.
func NewPollingWatcher(paths []string, interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		paths:    paths,
		interval: interval,
		state:    make(map[string]fileState, len(paths)),
		events:   make(chan FileEvent, 16),
		errors:   make(chan error, 4),
		stopCh:   make(chan struct{}),
	}
}

// Start records a baseline and polls until ctx is done or Stop is called.
func (p *PollingWatcher) Start(ctx context.Context) error {
	p.mu.Lock()
	for _, path := range p.paths {
		st, err := stat(path)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		p.state[path] = st
	}
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *PollingWatcher) poll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, path := range p.paths {
		cur, err := stat(path)
		if err != nil {
			p.emitError(err)
			continue
		}
		prev := p.state[path]
		p.state[path] = cur

		var op Operation
		switch {
		case !prev.exists && cur.exists:
			op = OpCreate
		case prev.exists && !cur.exists:
			op = OpDelete
		case cur.exists && (prev.modTime != cur.modTime || prev.size != cur.size):
			op = OpModify
		default:
			continue
		}
		p.emit(FileEvent{Path: path, Operation: op, Timestamp: time.Now()})
	}
}

func stat(path string) (fileState, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileState{}, nil
	}
	if err != nil {
		return fileState{}, err
	}
	return fileState{exists: true, modTime: info.ModTime(), size: info.Size()}, nil
}

// emit and emitError must be called with p.mu held.
func (p *PollingWatcher) emit(event FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()))
	}
}

func (p *PollingWatcher) emitError(err error) {
	if p.stopped {
		return
	}
	select {
	case p.errors <- err:
	default:
	}
}

// Events returns the channel of file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns non-fatal stat errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// Stop stops polling and closes both channels. Safe to call repeatedly.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}
