package watcher

import (
	"context"
	"log/slog"
	"time"
)

// ReindexFunc rebuilds indexes from the watched files.
type ReindexFunc func(ctx context.Context) error

// Run calls reindex once per batch until ctx is done or events is closed.
// A batch that only deletes files is skipped so the current index keeps
// serving. Reindex errors are logged and do not stop the loop.
func Run(ctx context.Context, events <-chan []FileEvent, reindex ReindexFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			if onlyDeletes(batch) {
				logger.Warn("watched file removed, keeping current index",
					slog.String("path", batch[0].Path))
				continue
			}

			start := time.Now()
			if err := reindex(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error("reindex after file change failed",
					slog.Int("events", len(batch)),
					slog.String("error", err.Error()))
				continue
			}
			logger.Info("reindexed after file change",
				slog.Int("events", len(batch)),
				slog.Duration("duration", time.Since(start)))
		}
	}
}

func onlyDeletes(batch []FileEvent) bool {
	for _, e := range batch {
		if e.Operation != OpDelete {
			return false
		}
	}
	return len(batch) > 0
}
