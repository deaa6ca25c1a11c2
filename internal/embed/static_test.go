package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_DefaultDimensions(t *testing.T) {
	// Given: a static embedder with no explicit dimension
	embedder := NewStaticEmbedder(0)
	defer func() { _ = embedder.Close() }()

	// When: an incident summary is embedded
	embedding, err := embedder.Embed(context.Background(), "Container gate-in rejected at terminal")

	// Then: the vector has the default dimension and unit length
	require.NoError(t, err)
	assert.Len(t, embedding, StaticDimensions)
	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.001)
	assert.Equal(t, "static", embedder.ModelName())
}

func TestStaticEmbedder_CustomDimensions(t *testing.T) {
	embedder := NewStaticEmbedder(64)

	embedding, err := embedder.Embed(context.Background(), "vessel berth")
	require.NoError(t, err)

	assert.Len(t, embedding, 64)
	assert.Equal(t, 64, embedder.Dimensions())
	assert.Equal(t, "static-64", embedder.ModelName())
}

func TestStaticEmbedder_IsDeterministic(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	text := "EDI message COPARN failed validation for booking"

	first, err := embedder.Embed(context.Background(), text)
	require.NoError(t, err)
	second, err := NewStaticEmbedder(0).Embed(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStaticEmbedder_BlankInputIsZeroVector(t *testing.T) {
	embedder := NewStaticEmbedder(32)

	for _, text := range []string{"", "   ", "\n\t"} {
		embedding, err := embedder.Embed(context.Background(), text)
		require.NoError(t, err)
		require.Len(t, embedding, 32)
		for _, v := range embedding {
			assert.Equal(t, float32(0), v)
		}
	}
}

func TestStaticEmbedder_RelatedTextIsCloser(t *testing.T) {
	// Given: two container incidents and one unrelated billing note
	embedder := NewStaticEmbedder(0)
	ctx := context.Background()

	a, _ := embedder.Embed(ctx, "Container stuck at gate, gate-in transaction failed")
	b, _ := embedder.Embed(ctx, "Gate-in failed for container at terminal gate")
	c, _ := embedder.Embed(ctx, "Invoice currency rounding on monthly billing report")

	// Then: the two container incidents are more similar
	assert.Greater(t, cosineSimilarity(a, b), cosineSimilarity(a, c))
}

func TestStaticEmbedder_StopWordsIgnoredInTokens(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	ctx := context.Background()

	plain, _ := embedder.Embed(ctx, "vessel schedule")
	padded, _ := embedder.Embed(ctx, "the vessel schedule")

	// Only the trigrams of "the" differ, so similarity stays high.
	assert.Greater(t, cosineSimilarity(plain, padded), 0.8)
}

func TestTokenize_LettersAndDigits(t *testing.T) {
	assert.Equal(t, []string{"err", "409", "vessel", "name"}, tokenize("ERR-409: Vessel_name"))
	assert.Equal(t, []string{}, tokenize("--- ..."))
}

func TestExtractNgrams(t *testing.T) {
	assert.Equal(t, []string{"ves", "ess", "sse", "sel"}, extractNgrams("vessel", 3))
	assert.Equal(t, []string{}, extractNgrams("ab", 3))
	assert.Equal(t, "edi42", normalizeForNgrams("EDI-42!"))
}

func TestStaticEmbedder_EmbedBatch(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	ctx := context.Background()

	texts := []string{"vessel", "", "container"}
	vecs, err := embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, _ := embedder.Embed(ctx, "container")
	assert.Equal(t, single, vecs[2])

	empty, err := embedder.EmbedBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStaticEmbedder_ClosedRejectsCalls(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	assert.True(t, embedder.Available(context.Background()))

	require.NoError(t, embedder.Close())

	assert.False(t, embedder.Available(context.Background()))
	_, err := embedder.Embed(context.Background(), "vessel")
	assert.Error(t, err)
}

func TestStaticEmbedder_CancelledBatch(t *testing.T) {
	embedder := NewStaticEmbedder(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := embedder.EmbedBatch(ctx, []string{"vessel"})
	assert.ErrorIs(t, err, context.Canceled)
}
