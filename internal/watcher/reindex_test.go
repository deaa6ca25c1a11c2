package watcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ReindexesPerBatch(t *testing.T) {
	// Given: three batches, one of which only deletes
	events := make(chan []FileEvent, 3)
	events <- []FileEvent{{Path: "sops.json", Operation: OpModify}}
	events <- []FileEvent{{Path: "sops.json", Operation: OpDelete}}
	events <- []FileEvent{{Path: "sops.json", Operation: OpCreate}, {Path: "cases.json", Operation: OpDelete}}
	close(events)

	var calls atomic.Int32
	reindex := func(context.Context) error {
		calls.Add(1)
		return nil
	}

	// When: the loop drains them
	err := Run(context.Background(), events, reindex, nil)

	// Then: the delete-only batch is skipped
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRun_ReindexErrorDoesNotStopLoop(t *testing.T) {
	events := make(chan []FileEvent, 2)
	events <- []FileEvent{{Path: "sops.json", Operation: OpModify}}
	events <- []FileEvent{{Path: "sops.json", Operation: OpModify}}
	close(events)

	var calls atomic.Int32
	reindex := func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("record 3 has no title")
		}
		return nil
	}

	require.NoError(t, Run(context.Background(), events, reindex, nil))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, make(chan []FileEvent), func(context.Context) error { return nil }, nil)
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
