package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "telemetry", "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStore_StageCounts_Incremental(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.SaveStageCounts("2026-01-06", map[string]int64{"expand": 2}))
	require.NoError(t, store.SaveStageCounts("2026-01-06", map[string]int64{"expand": 3, "rerank": 1}))
	require.NoError(t, store.SaveStageCounts("2026-01-08", map[string]int64{"expand": 10}))

	counts, err := store.GetStageCounts("2026-01-06", "2026-01-07")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"expand": 5, "rerank": 1}, counts)
}

func TestSQLiteStore_TopTerms(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.UpsertTermCounts(map[string]int64{"gateway": 3, "timeout": 1}))
	require.NoError(t, store.UpsertTermCounts(map[string]int64{"timeout": 4}))

	terms, err := store.GetTopTerms(10)
	require.NoError(t, err)
	assert.Equal(t, []TermCount{{Term: "timeout", Count: 5}, {Term: "gateway", Count: 3}}, terms)
}

func TestSQLiteStore_ZeroResultQueries_Trimmed(t *testing.T) {
	store := setupTestStore(t)

	now := time.Now()
	for i := 0; i < maxZeroResultRows+5; i++ {
		require.NoError(t, store.AddZeroResultQuery("q", now))
	}
	require.NoError(t, store.AddZeroResultQuery("newest", now))

	queries, err := store.GetZeroResultQueries(1000)
	require.NoError(t, err)
	assert.Len(t, queries, maxZeroResultRows)
	assert.Equal(t, "newest", queries[0])
}

func TestSQLiteStore_LatencyCounts(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.SaveLatencyCounts("2026-01-06", map[LatencyBucket]int64{BucketP100: 4, BucketP5000: 1}))
	require.NoError(t, store.SaveLatencyCounts("2026-01-07", map[LatencyBucket]int64{BucketP100: 1}))

	counts, err := store.GetLatencyCounts("2026-01-01", "2026-01-31")
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts[BucketP100])
	assert.Equal(t, int64(1), counts[BucketP5000])
}

func TestSQLiteStore_EmptyMapsAreNoops(t *testing.T) {
	store := setupTestStore(t)

	assert.NoError(t, store.SaveStageCounts("2026-01-06", nil))
	assert.NoError(t, store.UpsertTermCounts(nil))
	assert.NoError(t, store.SaveLatencyCounts("2026-01-06", nil))
}
