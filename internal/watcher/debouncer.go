package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces bursts of events per path so a save that touches a
// file several times triggers one rebuild. Per path:
//   - CREATE then MODIFY stays CREATE
//   - CREATE then DELETE cancels out
//   - DELETE then CREATE becomes MODIFY (the file was replaced)
//   - anything else keeps the latest operation
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]pending
	order   []string
	timer   *time.Timer
	output  chan []FileEvent
	stopped bool
}

type pending struct {
	event FileEvent
	first Operation
}

// NewDebouncer creates a debouncer that flushes window after the last event.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]pending),
		output:  make(chan []FileEvent, 4),
	}
}

// Add queues event and restarts the flush timer.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	prev, ok := d.pending[event.Path]
	switch {
	case !ok:
		d.pending[event.Path] = pending{event: event, first: event.Operation}
		d.order = append(d.order, event.Path)
	default:
		merged, keep := merge(prev, event)
		if keep {
			d.pending[event.Path] = pending{event: merged, first: prev.first}
		} else {
			delete(d.pending, event.Path)
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// merge combines a queued event with a newer one for the same path. keep is
// false when the two cancel out.
func merge(prev pending, next FileEvent) (merged FileEvent, keep bool) {
	switch {
	case prev.first == OpCreate && next.Operation == OpModify:
		return prev.event, true
	case prev.first == OpCreate && next.Operation == OpDelete:
		return FileEvent{}, false
	case prev.first == OpDelete && next.Operation == OpCreate:
		next.Operation = OpModify
		return next, true
	default:
		return next, true
	}
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		d.order = d.order[:0]
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, path := range d.order {
		if p, ok := d.pending[path]; ok {
			batch = append(batch, p.event)
			delete(d.pending, path)
		}
	}
	d.order = d.order[:0]

	select {
	case d.output <- batch:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(batch)))
	}
}

// Output returns the channel of debounced batches, in first-seen path order.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop cancels any pending flush and closes Output. Safe to call repeatedly.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
