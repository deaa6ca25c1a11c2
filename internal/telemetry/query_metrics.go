// Package telemetry records what incidents are asked about and how the
// retrieval pipeline behaved while answering them.
// All telemetry data is stored locally unless a Prometheus listener is enabled.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP100   LatencyBucket = "p100"   // <100ms
	BucketP500   LatencyBucket = "p500"   // 100-500ms
	BucketP1000  LatencyBucket = "p1000"  // 500ms-1s
	BucketP5000  LatencyBucket = "p5000"  // 1-5s
	BucketP30000 LatencyBucket = "p30000" // >=5s
)

// LatencyToBucket converts a duration to its histogram bucket. Retrievals
// include LLM round trips, so buckets are coarser than pure index lookups.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	case ms < 1000:
		return BucketP1000
	case ms < 5000:
		return BucketP5000
	default:
		return BucketP30000
	}
}

// RetrievalEvent describes one completed retrieval.
type RetrievalEvent struct {
	RequestID  string
	IncidentID string
	// Query is the deterministic original query of the request.
	Query          string
	Module         string
	NumQueries     int
	ResultCount    int
	DegradedStages []string
	Latency        time.Duration
	Timestamp      time.Time
}

// IsZeroResult returns true if this retrieval returned no documents.
func (e RetrievalEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// Recorder consumes retrieval events. Implementations must be safe for
// concurrent use and must not block the caller.
type Recorder interface {
	RecordRetrieval(event RetrievalEvent)
}

// MultiRecorder fans an event out to several recorders.
type MultiRecorder []Recorder

// RecordRetrieval implements Recorder.
func (m MultiRecorder) RecordRetrieval(event RetrievalEvent) {
	for _, r := range m {
		if r != nil {
			r.RecordRetrieval(event)
		}
	}
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// stopTerms are dropped from top-term tracking. The original query carries
// fixed labels from its construction.
var stopTerms = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"code:": true, "module:": true, "entities:": true,
}

// ExtractTerms extracts trackable terms from a query string.
// Terms are lowercased, stripped of separators and at least 3 bytes long.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if stopTerms[w] {
			continue
		}
		w = strings.Trim(w, "|,;.()[]\"'")
		if len(w) >= 3 && !stopTerms[w] {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an immutable view of collected metrics.
type Snapshot struct {
	TotalRetrievals     int64                   `json:"total_retrievals"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	DegradedStages      map[string]int64        `json:"degraded_stages"`
	ModuleCounts        map[string]int64        `json:"module_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultRate returns the fraction of retrievals that found nothing.
func (s *Snapshot) ZeroResultRate() float64 {
	if s.TotalRetrievals == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalRetrievals)
}

// Store persists aggregated metrics.
type Store interface {
	SaveStageCounts(date string, counts map[string]int64) error
	GetStageCounts(from, to string) (map[string]int64, error)
	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)
	AddZeroResultQuery(query string, timestamp time.Time) error
	GetZeroResultQueries(limit int) ([]string, error)
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// Config configures the metrics collector.
type Config struct {
	TopTermsCapacity      int           // Max terms to track (default: 100)
	ZeroResultsCapacity   int           // Max zero-result queries to keep (default: 100)
	RecentQueriesCapacity int           // Max query hashes for repeat detection (default: 500)
	FlushInterval         time.Duration // Auto-flush period, 0 disables (default: 60s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// QueryMetrics aggregates retrieval events in memory and optionally flushes
// them to a Store. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	total           int64
	zeroResultCount int64
	degraded        map[string]int64
	modules         map[string]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	recentQueries   *lru.Cache[string, struct{}]
	exactRepeats    int64
	startTime       time.Time

	// Deltas since the last flush.
	pendingDegraded  map[string]int64
	pendingTerms     map[string]int64
	pendingLatencies map[LatencyBucket]int64
	pendingZero      []zeroResult

	store       Store
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

type zeroResult struct {
	query string
	at    time.Time
}

var _ Recorder = (*QueryMetrics)(nil)

// NewQueryMetrics creates a collector. A nil store keeps metrics in memory.
func NewQueryMetrics(store Store, cfg Config) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		degraded:         make(map[string]int64),
		modules:          make(map[string]int64),
		topTerms:         topTerms,
		zeroResults:      NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:        make(map[LatencyBucket]int64),
		recentQueries:    recent,
		startTime:        time.Now(),
		pendingDegraded:  make(map[string]int64),
		pendingTerms:     make(map[string]int64),
		pendingLatencies: make(map[LatencyBucket]int64),
		store:            store,
		stopCh:           make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// RecordRetrieval implements Recorder.
func (m *QueryMetrics) RecordRetrieval(event RetrievalEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.total++
	if event.Module != "" {
		m.modules[event.Module]++
	}
	for _, stage := range event.DegradedStages {
		m.degraded[stage]++
		m.pendingDegraded[stage]++
	}

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pendingTerms[term]++
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
		ts := event.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		m.pendingZero = append(m.pendingZero, zeroResult{query: event.Query, at: ts})
	}

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.pendingLatencies[bucket]++

	key := hashQuery(event.Query)
	if _, seen := m.recentQueries.Get(key); seen {
		m.exactRepeats++
	}
	m.recentQueries.Add(key, struct{}{})
}

// hashQuery creates a normalized hash of the query for repetition detection.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// Snapshot returns current metrics for reporting.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.SliceStable(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	return &Snapshot{
		TotalRetrievals:     m.total,
		ZeroResultCount:     m.zeroResultCount,
		DegradedStages:      copyMap(m.degraded),
		ModuleCounts:        copyMap(m.modules),
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: copyMap(m.latencies),
		ExactRepeatCount:    m.exactRepeats,
		Since:               m.startTime,
	}
}

func copyMap[K comparable](in map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Flush writes counts accumulated since the previous flush to the store.
// Safe to call even if no store is configured.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	degraded, terms, latencies, zero := m.pendingDegraded, m.pendingTerms, m.pendingLatencies, m.pendingZero
	m.pendingDegraded = make(map[string]int64)
	m.pendingTerms = make(map[string]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingZero = nil
	m.mu.Unlock()

	today := time.Now().Format("2006-01-02")

	if err := m.store.SaveStageCounts(today, degraded); err != nil {
		return err
	}
	if err := m.store.UpsertTermCounts(terms); err != nil {
		return err
	}
	if err := m.store.SaveLatencyCounts(today, latencies); err != nil {
		return err
	}
	for _, z := range zero {
		if err := m.store.AddZeroResultQuery(z.query, z.at); err != nil {
			return err
		}
	}
	return nil
}

// Close stops auto-flush and performs a final flush.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}
