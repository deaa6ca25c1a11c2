package embed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder is a test double that counts calls and can fail on demand.
type countingEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	dimensions int
	modelName  string
	err        error
}

func newCountingEmbedder(dims int) *countingEmbedder {
	return &countingEmbedder{dimensions: dims, modelName: "counting-model"}
}

func (m *countingEmbedder) vector(text string) []float32 {
	vec := make([]float32, m.dimensions)
	vec[len(text)%m.dimensions] = 1
	return vec
}

func (m *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.vector(text), nil
}

func (m *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = m.vector(text)
	}
	return result, nil
}

func (m *countingEmbedder) Dimensions() int                  { return m.dimensions }
func (m *countingEmbedder) ModelName() string                { return m.modelName }
func (m *countingEmbedder) Available(ctx context.Context) bool { return m.err == nil }
func (m *countingEmbedder) Close() error                     { return nil }

func TestCachedEmbedder_SameQueryHitsCache(t *testing.T) {
	// Given: a cached embedder
	inner := newCountingEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	query := "Error code: VSL-409 | Duplicate vessel name"

	// When: the same query variant is embedded twice
	first, err := cached.Embed(ctx, query)
	require.NoError(t, err)
	second, err := cached.Embed(ctx, query)
	require.NoError(t, err)

	// Then: the inner embedder ran once and results match
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, first, second)

	// And: stats record one miss and one hit
	stats := cached.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestCachedEmbedder_DistinctTextsMiss(t *testing.T) {
	inner := newCountingEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	for _, text := range []string{"gate-in failure", "edi parse error", "berth clash"} {
		_, err := cached.Embed(context.Background(), text)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), inner.embedCalls.Load())
}

func TestCachedEmbedder_KeyIncludesModel(t *testing.T) {
	// Given: two caches around embedders with different model names
	a := newCountingEmbedder(8)
	b := newCountingEmbedder(8)
	b.modelName = "other-model"

	ca := NewCachedEmbedder(a, 10)
	cb := NewCachedEmbedder(b, 10)

	// Then: the same text produces different cache keys
	assert.NotEqual(t, ca.cacheKey("vessel"), cb.cacheKey("vessel"))
}

func TestCachedEmbedder_EmbedBatch_OnlyEmbedsMisses(t *testing.T) {
	// Given: one text already cached
	inner := newCountingEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	_, err := cached.Embed(ctx, "vessel")
	require.NoError(t, err)

	// When: a batch includes the cached text
	vecs, err := cached.EmbedBatch(ctx, []string{"vessel", "container", "edi"})
	require.NoError(t, err)

	// Then: results stay in input order and one batch call was made
	require.Len(t, vecs, 3)
	assert.Equal(t, inner.vector("container"), vecs[1])
	assert.Equal(t, int64(1), inner.batchCalls.Load())

	// And: later single lookups hit the batch-filled cache
	_, err = cached.Embed(ctx, "edi")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	inner := newCountingEmbedder(8)
	inner.err = errors.New("backend down")
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.Embed(context.Background(), "vessel")
	require.Error(t, err)

	inner.err = nil
	_, err = cached.Embed(context.Background(), "vessel")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.embedCalls.Load())
}

func TestCachedEmbedder_LRUEviction(t *testing.T) {
	// Given: a cache holding 2 entries
	inner := newCountingEmbedder(8)
	cached := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	// When: three texts are embedded
	for _, text := range []string{"one", "two", "three"} {
		_, _ = cached.Embed(ctx, text)
	}
	inner.embedCalls.Store(0)

	// Then: the oldest was evicted and the newest are still cached
	_, _ = cached.Embed(ctx, "three")
	_, _ = cached.Embed(ctx, "two")
	assert.Equal(t, int64(0), inner.embedCalls.Load())
	_, _ = cached.Embed(ctx, "one")
	assert.Equal(t, int64(1), inner.embedCalls.Load())
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newCountingEmbedder(12)
	cached := NewCachedEmbedder(inner, 0)

	assert.Equal(t, 12, cached.Dimensions())
	assert.Equal(t, "counting-model", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())
	assert.NoError(t, cached.Close())
}

func TestCachedEmbedder_ConcurrentAccess(t *testing.T) {
	inner := newCountingEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	texts := []string{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := cached.Embed(context.Background(), texts[j%len(texts)])
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	stats := cached.Stats()
	assert.Equal(t, int64(400), stats.Hits+stats.Misses)
}
