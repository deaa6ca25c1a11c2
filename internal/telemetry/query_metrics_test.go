package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CircularBuffer Tests
// =============================================================================

func TestCircularBuffer_MaintainsCapacity(t *testing.T) {
	buf := NewCircularBuffer[string](3)

	buf.Add("query1")
	buf.Add("query2")
	buf.Add("query3")
	buf.Add("query4") // Should evict query1
	buf.Add("query5") // Should evict query2

	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, []string{"query3", "query4", "query5"}, buf.Items())
}

func TestCircularBuffer_EmptyItems(t *testing.T) {
	buf := NewCircularBuffer[string](10)

	items := buf.Items()
	assert.Empty(t, items)
	assert.NotNil(t, items)
}

// =============================================================================
// LatencyBucket Tests
// =============================================================================

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency  time.Duration
		expected LatencyBucket
	}{
		{5 * time.Millisecond, BucketP100},
		{99 * time.Millisecond, BucketP100},
		{100 * time.Millisecond, BucketP500},
		{499 * time.Millisecond, BucketP500},
		{500 * time.Millisecond, BucketP1000},
		{1 * time.Second, BucketP5000},
		{4999 * time.Millisecond, BucketP5000},
		{5 * time.Second, BucketP30000},
		{time.Minute, BucketP30000},
	}

	for _, tt := range tests {
		t.Run(tt.latency.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, LatencyToBucket(tt.latency))
		})
	}
}

func TestExtractTerms(t *testing.T) {
	terms := ExtractTerms("Payment gateway timeout | Module: Payments | Error code: ERR_GW_504")

	assert.Contains(t, terms, "payment")
	assert.Contains(t, terms, "gateway")
	assert.Contains(t, terms, "err_gw_504")
	assert.NotContains(t, terms, "module:")
	assert.NotContains(t, terms, "|")
}

// =============================================================================
// QueryMetrics Tests
// =============================================================================

func TestQueryMetrics_RecordRetrieval_AggregatesEvents(t *testing.T) {
	// Given: an in-memory collector
	m := NewQueryMetrics(nil, DefaultConfig())
	defer m.Close()

	// When: three retrievals are recorded, one of them degraded and one empty
	m.RecordRetrieval(RetrievalEvent{Query: "gateway timeout", Module: "Payments", ResultCount: 3, Latency: 50 * time.Millisecond})
	m.RecordRetrieval(RetrievalEvent{Query: "login failure", Module: "Auth", ResultCount: 2, Latency: 200 * time.Millisecond, DegradedStages: []string{"expand"}})
	m.RecordRetrieval(RetrievalEvent{Query: "unknown widget", Module: "Payments", ResultCount: 0, Latency: 2 * time.Second, DegradedStages: []string{"expand", "rerank"}})

	// Then: the snapshot reflects every dimension
	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalRetrievals)
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, int64(2), snap.DegradedStages["expand"])
	assert.Equal(t, int64(1), snap.DegradedStages["rerank"])
	assert.Equal(t, int64(2), snap.ModuleCounts["Payments"])
	assert.Equal(t, []string{"unknown widget"}, snap.ZeroResultQueries)
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP100])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP500])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP5000])
	assert.InDelta(t, 1.0/3.0, snap.ZeroResultRate(), 0.001)
}

func TestQueryMetrics_TopTerms_SortedByCount(t *testing.T) {
	m := NewQueryMetrics(nil, DefaultConfig())
	defer m.Close()

	m.RecordRetrieval(RetrievalEvent{Query: "gateway timeout", ResultCount: 1})
	m.RecordRetrieval(RetrievalEvent{Query: "gateway refused", ResultCount: 1})

	snap := m.Snapshot()
	require.NotEmpty(t, snap.TopTerms)
	assert.Equal(t, TermCount{Term: "gateway", Count: 2}, snap.TopTerms[0])
}

func TestQueryMetrics_ExactRepetition_CaseInsensitive(t *testing.T) {
	m := NewQueryMetrics(nil, DefaultConfig())
	defer m.Close()

	m.RecordRetrieval(RetrievalEvent{Query: "Gateway Timeout", ResultCount: 1})
	m.RecordRetrieval(RetrievalEvent{Query: "  gateway timeout ", ResultCount: 1})
	m.RecordRetrieval(RetrievalEvent{Query: "other", ResultCount: 1})

	assert.Equal(t, int64(1), m.Snapshot().ExactRepeatCount)
}

func TestQueryMetrics_Concurrent_ThreadSafe(t *testing.T) {
	m := NewQueryMetrics(nil, DefaultConfig())
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.RecordRetrieval(RetrievalEvent{Query: "concurrent query", ResultCount: j % 2})
				_ = m.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), m.Snapshot().TotalRetrievals)
}

func TestQueryMetrics_Close_IgnoresLaterEvents(t *testing.T) {
	m := NewQueryMetrics(nil, DefaultConfig())
	m.RecordRetrieval(RetrievalEvent{Query: "before", ResultCount: 1})

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	m.RecordRetrieval(RetrievalEvent{Query: "after", ResultCount: 1})

	assert.Equal(t, int64(1), m.Snapshot().TotalRetrievals)
}

func TestQueryMetrics_Flush_WritesDeltasOnly(t *testing.T) {
	// Given: a collector backed by a SQLite store, without auto-flush
	store, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	cfg := DefaultConfig()
	cfg.FlushInterval = 0
	m := NewQueryMetrics(store, cfg)

	// When: events are flushed twice with one new event in between
	m.RecordRetrieval(RetrievalEvent{Query: "gateway timeout", ResultCount: 0, DegradedStages: []string{"vector"}})
	require.NoError(t, m.Flush())
	m.RecordRetrieval(RetrievalEvent{Query: "gateway refused", ResultCount: 2})
	require.NoError(t, m.Flush())
	require.NoError(t, m.Close())

	// Then: persisted totals equal what was recorded, not a running sum of sums
	today := time.Now().Format("2006-01-02")
	stages, err := store.GetStageCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stages["vector"])

	terms, err := store.GetTopTerms(1)
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, TermCount{Term: "gateway", Count: 2}, terms[0])

	zero, err := store.GetZeroResultQueries(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"gateway timeout"}, zero)

	latencies, err := store.GetLatencyCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latencies[BucketP100])
}

func TestMultiRecorder_FansOut(t *testing.T) {
	a := NewQueryMetrics(nil, DefaultConfig())
	b := NewQueryMetrics(nil, DefaultConfig())
	defer a.Close()
	defer b.Close()

	MultiRecorder{a, nil, b}.RecordRetrieval(RetrievalEvent{Query: "x", ResultCount: 1})

	assert.Equal(t, int64(1), a.Snapshot().TotalRetrievals)
	assert.Equal(t, int64(1), b.Snapshot().TotalRetrievals)
}
