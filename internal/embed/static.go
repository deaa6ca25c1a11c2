package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings by hashing words and character
// trigrams into a fixed number of buckets. It needs no network or model,
// is fully deterministic, and captures lexical rather than semantic overlap.
type StaticEmbedder struct {
	mu     sync.RWMutex
	dims   int
	closed bool
}

// stopWords are frequent English words that carry no retrieval signal.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "for": true,
	"is": true, "are": true, "was": true, "be": true, "with": true,
	"at": true, "by": true, "from": true, "this": true, "that": true,
	"it": true, "as": true, "not": true, "no": true,
}

// Weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// tokenRegex matches runs of letters and digits
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// NewStaticEmbedder creates a static embedder. dims <= 0 uses StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates embedding for a single text.
// Empty or whitespace-only input yields the zero vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dims)

	for _, token := range tokenize(text) {
		if stopWords[token] {
			continue
		}
		vector[hashToIndex(token, e.dims)] += tokenWeight
	}

	for _, ngram := range extractNgrams(normalizeForNgrams(text), ngramSize) {
		vector[hashToIndex(ngram, e.dims)] += ngramWeight
	}

	return vector
}

// tokenize returns the lowercase letter/digit runs of text.
func tokenize(text string) []string {
	words := tokenRegex.FindAllString(strings.ToLower(text), -1)
	if words == nil {
		return []string{}
	}
	return words
}

// normalizeForNgrams keeps only lowercase letters and digits.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-rune sliding windows.
func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to a bucket.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}

	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	if e.dims == StaticDimensions {
		return "static"
	}
	return fmt.Sprintf("static-%d", e.dims)
}

// Available reports true until Close is called.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
