// Package embed turns text into vectors for the vector index.
//
// Every Embedder returns unit-length vectors so cosine distance in the store
// is 1 - dot product.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultTimeout is the default per-request timeout for remote embedders
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retries after the first attempt
	DefaultMaxRetries = 2

	// StaticDimensions is the default embedding dimension for the static embedder
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension, or 0 if not yet known
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector returns v scaled to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
