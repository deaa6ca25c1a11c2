package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/sopfusion/internal/corpus"
	"github.com/Aman-CERP/sopfusion/internal/embed"
)

func newCorpus(t *testing.T, docs ...corpus.Document) *corpus.Corpus {
	t.Helper()
	c, err := corpus.New(corpus.KindSOP, docs)
	require.NoError(t, err)
	return c
}

// vesselCorpus is the three-document corpus used across engine tests.
func vesselCorpus(t *testing.T) *corpus.Corpus {
	return newCorpus(t,
		corpus.Document{ID: "A", Title: "Duplicate vessel name", Overview: "Vessel name conflicts during creation.", Module: "Vessel"},
		corpus.Document{ID: "B", Title: "Container gate-in failure", Overview: "Gate transaction rejected at terminal entry.", Module: "Gate"},
		corpus.Document{ID: "C", Title: "EDI message parse error", Overview: "Inbound EDI file malformed.", Module: "EDI"},
	)
}

// portCorpus extends vesselCorpus with two more documents.
func portCorpus(t *testing.T) *corpus.Corpus {
	return newCorpus(t,
		corpus.Document{ID: "A", Title: "Duplicate vessel name", Overview: "Vessel name conflicts during creation.", Module: "Vessel"},
		corpus.Document{ID: "B", Title: "Container gate-in failure", Overview: "Gate transaction rejected at terminal entry.", Module: "Gate"},
		corpus.Document{ID: "C", Title: "EDI message parse error", Overview: "Inbound EDI file malformed.", Module: "EDI"},
		corpus.Document{ID: "D", Title: "Vessel berth schedule overlap", Overview: "Two vessels assigned the same berth window.", Module: "Vessel"},
		corpus.Document{ID: "E", Title: "Crane telemetry gap", Overview: "Quay crane stops reporting moves.", Module: "Equipment"},
	)
}

func testEmbedder() embed.Embedder {
	return embed.NewStaticEmbedder(64)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Defaults = RetrieveOptions{NumQueryVariants: 0, KPerQuery: 3, TopKAfterRRF: 3, FinalTopK: 1}
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, c *corpus.Corpus, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{WithEmbedder(testEmbedder())}, opts...)
	e, err := NewEngine(context.Background(), cfg, StaticCorpus(c), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func candidateIDs(cands []ScoredCandidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.Document.ID
	}
	return ids
}

func stageStatus(r *RetrievalResult, stage string) StageStatus {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s.Status
		}
	}
	return ""
}

// queryFailingEmbedder embeds the corpus but fails every query embedding.
type queryFailingEmbedder struct {
	*embed.StaticEmbedder
}

func (queryFailingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

func (e queryFailingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.StaticEmbedder.EmbedBatch(ctx, texts)
}

// brokenEmbedder fails every call.
type brokenEmbedder struct {
	*embed.StaticEmbedder
}

func (brokenEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model not loaded")
}

func (brokenEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model not loaded")
}

// recordingReranker captures the candidates it was asked to order.
type recordingReranker struct {
	err   error
	order []int
	seen  []ScoredCandidate
}

func (r *recordingReranker) Order(_ context.Context, _ string, candidates []ScoredCandidate) ([]int, error) {
	r.seen = append([]ScoredCandidate(nil), candidates...)
	if r.err != nil {
		return nil, r.err
	}
	return r.order, nil
}

// blockingEmbedder embeds the corpus but holds every query embedding until
// its context ends.
type blockingEmbedder struct {
	*embed.StaticEmbedder
	entered  chan struct{}
	returned atomic.Int32
}

func newBlockingEmbedder() *blockingEmbedder {
	return &blockingEmbedder{StaticEmbedder: embed.NewStaticEmbedder(64), entered: make(chan struct{}, 1)}
}

func (b *blockingEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	b.returned.Add(1)
	return nil, ctx.Err()
}

func (b *blockingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return b.StaticEmbedder.EmbedBatch(ctx, texts)
}
