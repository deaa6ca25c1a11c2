// Package store provides the lexical (BM25) and vector (HNSW) indexes the
// retrieval engine scores documents against.
//
// Indexes are built once over a fixed corpus and then only read, so every
// implementation is safe for concurrent Search calls after Index/Add returns.
package store

import (
	"context"
	"fmt"
)

// Document is a unit of text handed to a lexical index.
type Document struct {
	ID      string // Corpus document ID
	Content string // Text to score (the document projection)
}

// BM25Result represents a single lexical search result.
type BM25Result struct {
	DocID string
	Score float64
}

// IndexStats provides statistics about a lexical index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search using the BM25 ranking function.
//
// Search scores every indexed document and returns the top limit, ordered by
// score descending with ties broken by the order the documents were indexed.
// Documents sharing no term with the query rank last with score 0. A query
// with no tokens returns nothing.
type BM25Index interface {
	// Index adds documents to the index. Order of docs is the tie-break order.
	Index(ctx context.Context, docs []*Document) error

	// Search returns up to limit documents matching query.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Stats returns index statistics.
	Stats() *IndexStats

	Close() error
}

// BM25Config configures BM25 scoring.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.5)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// Epsilon floors negative IDF values at Epsilon * average IDF (default: 0.25)
	Epsilon float64
}

// DefaultBM25Config returns default BM25 Okapi parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:      1.5,
		B:       0.75,
		Epsilon: 0.25,
	}
}

// Metadata is a set of string attributes attached to a stored vector.
type Metadata map[string]string

// Metadata keys set on stored vectors.
const (
	// MetaKind holds the projection kind of a vector.
	MetaKind = "kind"
	// MetaDocID holds the corpus document a vector was embedded from.
	MetaDocID = "doc_id"
)

// Projection kinds stored in the vector index.
const (
	// KindHeader marks vectors embedded from title + overview.
	KindHeader = "header"
	// KindBody marks vectors embedded from the document body.
	KindBody = "body"
)

// Filter restricts vector search to entries whose metadata contains every
// key/value pair. A nil or empty filter matches everything.
type Filter map[string]string

// Matches reports whether meta satisfies the filter.
func (f Filter) Matches(meta Metadata) bool {
	for k, v := range f {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Vector ID
	Distance float32 // Cosine distance, lower is more similar (0-2)
	Metadata Metadata
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides nearest-neighbour search over embedded documents.
type VectorStore interface {
	// Add inserts vectors with their IDs and metadata. meta may be nil;
	// otherwise it must be the same length as ids. Existing IDs are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32, meta []Metadata) error

	// Search finds the k nearest neighbours of query that satisfy filter,
	// ordered by distance ascending with ties broken by ID.
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns number of vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'sopfusion index --force')", e.Expected, e.Got)
}
