package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/sopfusion/internal/corpus"
	"github.com/Aman-CERP/sopfusion/internal/embed"
	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
	"github.com/Aman-CERP/sopfusion/internal/store"
)

// headerFilter restricts vector search to title+overview projections.
var headerFilter = store.Filter{store.MetaKind: store.KindHeader}

// VectorHit is one vector search result.
type VectorHit struct {
	Document   corpus.Document `json:"document"`
	Similarity float64         `json:"similarity"`
	Distance   float64         `json:"distance"`
}

// LexicalHit is one normalized BM25 result.
type LexicalHit struct {
	Document corpus.Document `json:"document"`
	Score    float64         `json:"score"`
}

// VectorIndex answers nearest-neighbour queries over the header projection
// of a corpus.
type VectorIndex struct {
	embedder embed.Embedder
	store    store.VectorStore
	corpus   *corpus.Corpus
}

// NewVectorIndex wraps an already populated store.
func NewVectorIndex(embedder embed.Embedder, vs store.VectorStore, c *corpus.Corpus) (*VectorIndex, error) {
	if embedder == nil || vs == nil || c == nil {
		return nil, fmt.Errorf("%w: vector index needs embedder, store and corpus", ErrNilDependency)
	}
	return &VectorIndex{embedder: embedder, store: vs, corpus: c}, nil
}

// Search embeds query and returns up to k header hits with
// similarity = 1 - distance.
func (v *VectorIndex) Search(ctx context.Context, query string, k int) ([]VectorHit, error) {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return []VectorHit{}, nil
	}

	vec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, sferrors.New(sferrors.ErrCodeEmbeddingFailed, "embed query", err)
	}

	results, err := v.store.Search(ctx, vec, k, headerFilter)
	if err != nil {
		return nil, sferrors.New(sferrors.ErrCodeSearchFailed, "vector search", err)
	}

	hits := make([]VectorHit, 0, len(results))
	for _, r := range results {
		doc, ok := v.corpus.Get(r.Metadata[store.MetaDocID])
		if !ok {
			continue
		}
		d := float64(r.Distance)
		hits = append(hits, VectorHit{Document: doc, Similarity: 1 - d, Distance: d})
	}
	return hits, nil
}

// Count returns the number of stored vectors.
func (v *VectorIndex) Count() int {
	return v.store.Count()
}

// Close releases the store.
func (v *VectorIndex) Close() error {
	return v.store.Close()
}

// searchVector runs a vector search bounded by timeout and converts failure
// into an empty, degraded result.
func searchVector(ctx context.Context, v *VectorIndex, query string, k int, logger *slog.Logger, timeout timeoutFn) ([]VectorHit, error) {
	if v == nil {
		return []VectorHit{}, errVectorUnavailable
	}
	callCtx, cancel := timeout(ctx)
	defer cancel()

	hits, err := v.Search(callCtx, query, k)
	if err != nil {
		logger.Warn("vector search failed, continuing lexical-only",
			slog.String("stage", StageVector),
			slog.String("query", query),
			slog.String("error", err.Error()))
		return []VectorHit{}, err
	}
	return hits, nil
}
