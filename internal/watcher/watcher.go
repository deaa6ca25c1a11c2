package watcher

import (
	"time"
)

// Operation is the kind of change observed on a watched file.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

// String returns the operation name.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change to a watched file.
type FileEvent struct {
	// Path is the absolute path of the watched file.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures a FileWatcher.
type Options struct {
	// DebounceWindow coalesces events arriving within it. Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is used when fsnotify is unavailable. Default: 2s
	PollInterval time.Duration

	// EventBufferSize is the capacity of the batch channel. Default: 16
	EventBufferSize int

	// ForcePolling skips fsnotify, for network mounts and container volumes.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    2 * time.Second,
		EventBufferSize: 16,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = def.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = def.EventBufferSize
	}
	return o
}
