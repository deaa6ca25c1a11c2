package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/sopfusion/internal/corpus"
	"github.com/Aman-CERP/sopfusion/internal/embed"
	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
	"github.com/Aman-CERP/sopfusion/internal/llm"
	"github.com/Aman-CERP/sopfusion/internal/telemetry"
)

func vesselIncident() IncidentContext {
	return IncidentContext{IncidentID: "INC-001", ProblemSummary: "duplicate vessel name"}
}

// scriptedGenerator answers expansion and rerank prompts separately.
func scriptedGenerator(variants, ranking string) llm.Generator {
	return llm.FuncGenerator(func(ctx context.Context, system, _ string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if system == rerankSystemPrompt {
			return ranking, nil
		}
		return variants, nil
	})
}

func TestEngine_RetrievesBestMatch(t *testing.T) {
	// Given the three-document corpus and no generator
	e := newTestEngine(t, testConfig(), vesselCorpus(t))

	// When retrieving for "duplicate vessel name" with k=3, top=3, final=1
	res, err := e.Retrieve(context.Background(), vesselIncident(),
		RetrieveOptions{NumQueryVariants: 0, KPerQuery: 3, TopKAfterRRF: 3, FinalTopK: 1})

	// Then A is the single result
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	top := res.Documents[0]
	assert.Equal(t, "A", top.ID())
	assert.True(t, top.HasLexical)
	assert.True(t, top.HasVector)
	assert.Equal(t, SourceBoth, top.Source)
	assert.Equal(t, 1.0, top.Scores.Rerank)
	assert.InDelta(t, 1.0/61, top.Scores.Fusion, 1e-12)

	assert.Equal(t, []string{"duplicate vessel name"}, res.Queries)
	assert.Equal(t, 1, res.Metrics.NumExpandedQueries)
	assert.Equal(t, 1, res.Metrics.NumFinalResults)
	assert.Equal(t, 0.4, res.Metrics.LexicalWeight)
	assert.Equal(t, 0.6, res.Metrics.VectorWeight)
	assert.Equal(t, 60, res.Metrics.RRFK)
	assert.Empty(t, res.DegradedStages())
	assert.Equal(t, StatusSkipped, stageStatus(res, StageExpand))
	assert.Equal(t, StatusSkipped, stageStatus(res, StageRerank))
	assert.Contains(t, res.Summary, "Top match: Duplicate vessel name.")
}

func TestEngine_ResultsAreUniqueAndBounded(t *testing.T) {
	// Given a generator producing overlapping variants
	gen := scriptedGenerator("vessel name clash\nvessel already registered\ngate vessel edi", "0,1,2")
	e := newTestEngine(t, testConfig(), portCorpus(t), WithGenerator(gen))

	// When retrieving with several variants
	opts := RetrieveOptions{NumQueryVariants: 3, KPerQuery: 5, TopKAfterRRF: 4, FinalTopK: 2}
	res, err := e.Retrieve(context.Background(), vesselIncident(), opts)

	// Then documents are unique, bounded and metrics are consistent
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Documents), opts.FinalTopK)
	seen := map[string]bool{}
	for _, d := range res.Documents {
		assert.False(t, seen[d.ID()], "duplicate %s", d.ID())
		seen[d.ID()] = true
	}

	m := res.Metrics
	assert.Equal(t, 4, m.NumExpandedQueries)
	assert.Len(t, res.Queries, m.NumExpandedQueries)
	assert.LessOrEqual(t, m.NumAfterFusion, opts.TopKAfterRRF)
	assert.LessOrEqual(t, m.NumAfterFusion, m.NumMergedCandidates)
	assert.Equal(t, len(res.Documents), m.NumFinalResults)
	assert.Equal(t, StatusOK, stageStatus(res, StageExpand))
	assert.Equal(t, StatusOK, stageStatus(res, StageRerank))
}

func TestEngine_RetrieveIsIdempotent(t *testing.T) {
	// Given deterministic external responses
	gen := scriptedGenerator("vessel name clash\nvessel registration conflict", "1,0,2")
	e := newTestEngine(t, testConfig(), portCorpus(t), WithGenerator(gen))
	opts := RetrieveOptions{NumQueryVariants: 2, KPerQuery: 5, TopKAfterRRF: 5, FinalTopK: 3}

	// When the same incident is retrieved twice
	first, err := e.Retrieve(context.Background(), vesselIncident(), opts)
	require.NoError(t, err)
	second, err := e.Retrieve(context.Background(), vesselIncident(), opts)
	require.NoError(t, err)

	// Then the serialized results are byte-identical
	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestEngine_VectorFailureServesLexicalOnly(t *testing.T) {
	// Given an engine whose query embeddings fail
	emb := queryFailingEmbedder{embed.NewStaticEmbedder(64)}
	e := newTestEngine(t, testConfig(), vesselCorpus(t), WithEmbedder(emb))

	// When retrieving
	res, err := e.Retrieve(context.Background(), vesselIncident(),
		RetrieveOptions{KPerQuery: 3, TopKAfterRRF: 3, FinalTopK: 3})

	// Then results come from BM25 alone and the vector stage is degraded
	require.NoError(t, err)
	require.NotEmpty(t, res.Documents)
	assert.Equal(t, "A", res.Documents[0].ID())
	for _, d := range res.Documents {
		assert.Zero(t, d.Scores.Vector)
		assert.False(t, d.HasVector)
		assert.Equal(t, SourceLexical, d.Source)
	}
	assert.Zero(t, res.Metrics.NumVectorCandidates)
	assert.Equal(t, StatusDegraded, stageStatus(res, StageVector))
	assert.Equal(t, StatusOK, stageStatus(res, StageLexical))
	assert.Equal(t, []string{StageVector}, res.DegradedStages())
}

func TestEngine_NoVectorIndexServesLexicalOnly(t *testing.T) {
	e := newTestEngine(t, testConfig(), vesselCorpus(t), WithEmbedder(brokenEmbedder{embed.NewStaticEmbedder(64)}))

	res, err := e.Retrieve(context.Background(), vesselIncident(), RetrieveOptions{})

	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "A", res.Documents[0].ID())
	assert.Equal(t, StatusDegraded, stageStatus(res, StageVector))
	assert.False(t, e.Stats().VectorReady)
	assert.NotEmpty(t, e.Stats().VectorError)
}

func TestEngine_RerankFailureUsesOverlapOrder(t *testing.T) {
	// Given a reranker that always fails
	rr := &recordingReranker{err: errors.New("judge timed out")}
	e := newTestEngine(t, testConfig(), portCorpus(t), WithReranker(rr))

	// When retrieving
	res, err := e.Retrieve(context.Background(), vesselIncident(),
		RetrieveOptions{KPerQuery: 5, TopKAfterRRF: 5, FinalTopK: 5})

	// Then the final order is the token-overlap order of the fused candidates
	require.NoError(t, err)
	require.NotEmpty(t, rr.seen)
	order, err := OverlapReranker{}.Order(context.Background(), res.Queries[0], rr.seen)
	require.NoError(t, err)
	want := make([]string, len(order))
	for i, idx := range order {
		want[i] = rr.seen[idx].ID()
	}
	assert.Equal(t, want, candidateIDs(res.Documents))
	assert.Equal(t, StatusDegraded, stageStatus(res, StageRerank))
	assert.Equal(t, 0.5, res.Documents[1].Scores.Rerank)
}

func TestEngine_ExpansionFailureStillAnswers(t *testing.T) {
	gen := llm.NewFailingGenerator(errors.New("connection refused"))
	cfg := testConfig()
	cfg.UseLLMRerank = false
	e := newTestEngine(t, cfg, vesselCorpus(t), WithGenerator(gen))

	res, err := e.Retrieve(context.Background(), vesselIncident(), RetrieveOptions{NumQueryVariants: 3})

	require.NoError(t, err)
	assert.Equal(t, []string{"duplicate vessel name"}, res.Queries)
	assert.Equal(t, StatusDegraded, stageStatus(res, StageExpand))
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "A", res.Documents[0].ID())
}

func TestEngine_RestrictToModule(t *testing.T) {
	e := newTestEngine(t, testConfig(), portCorpus(t))
	incident := IncidentContext{IncidentID: "INC-2", ProblemSummary: "vessel schedule", AffectedModule: "vessel"}

	res, err := e.Retrieve(context.Background(), incident,
		RetrieveOptions{KPerQuery: 5, TopKAfterRRF: 5, FinalTopK: 5, RestrictToModule: true})

	require.NoError(t, err)
	require.NotEmpty(t, res.Documents)
	for _, d := range res.Documents {
		assert.Equal(t, "Vessel", d.Document.Module)
	}
}

func TestEngine_EmptyCorpus(t *testing.T) {
	e := newTestEngine(t, testConfig(), newCorpus(t))

	res, err := e.Retrieve(context.Background(), vesselIncident(), RetrieveOptions{})

	require.NoError(t, err)
	assert.Empty(t, res.Documents)
	assert.Equal(t, "No relevant SOPs found for incident INC-001. Manual review recommended.", res.Summary)
	assert.Equal(t, StateReady, e.State())
}

func TestEngine_InvalidOptions(t *testing.T) {
	e := newTestEngine(t, testConfig(), vesselCorpus(t))

	_, err := e.Retrieve(context.Background(), vesselIncident(), RetrieveOptions{FinalTopK: -1})

	require.Error(t, err)
	assert.Equal(t, sferrors.ErrCodeInvalidOptions, sferrors.GetCode(err))
}

func TestEngine_CancelledContext(t *testing.T) {
	e := newTestEngine(t, testConfig(), vesselCorpus(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Retrieve(ctx, vesselIncident(), RetrieveOptions{})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_VectorTimeoutDegradesToLexical(t *testing.T) {
	// Given an embedder that never answers a query and a short vector timeout
	emb := newBlockingEmbedder()
	cfg := testConfig()
	cfg.VectorTimeout = 50 * time.Millisecond
	e := newTestEngine(t, cfg, vesselCorpus(t), WithEmbedder(emb))

	// When retrieving
	start := time.Now()
	res, err := e.Retrieve(context.Background(), vesselIncident(),
		RetrieveOptions{KPerQuery: 3, TopKAfterRRF: 3, FinalTopK: 3})

	// Then the call returns once the timeout fires, served by BM25 alone
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), emb.returned.Load())
	assert.Equal(t, StatusDegraded, stageStatus(res, StageVector))
	assert.Zero(t, res.Metrics.NumVectorCandidates)
	require.NotEmpty(t, res.Documents)
	assert.Equal(t, "A", res.Documents[0].ID())
}

func TestEngine_CancelDuringRetrieve(t *testing.T) {
	t.Run("blocked embedding", func(t *testing.T) {
		// Given a query embedding that blocks and no vector timeout
		emb := newBlockingEmbedder()
		cfg := testConfig()
		cfg.VectorTimeout = 0
		e := newTestEngine(t, cfg, vesselCorpus(t), WithEmbedder(emb))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() {
			_, err := e.Retrieve(ctx, vesselIncident(), RetrieveOptions{})
			done <- err
		}()

		// When the request is cancelled while the embedding is in flight
		select {
		case <-emb.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("query embedding never started")
		}
		cancel()

		// Then Retrieve reports the cancellation and the embedding call returned
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("Retrieve did not return after cancel")
		}
		assert.Equal(t, int32(1), emb.returned.Load())
	})

	t.Run("blocked expansion", func(t *testing.T) {
		// Given a generator that blocks and no expansion timeout
		entered := make(chan struct{}, 1)
		var returned atomic.Int32
		gen := llm.FuncGenerator(func(ctx context.Context, _, _ string) (string, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-ctx.Done()
			returned.Add(1)
			return "", ctx.Err()
		})
		cfg := testConfig()
		cfg.ExpandTimeout = 0
		e := newTestEngine(t, cfg, vesselCorpus(t), WithGenerator(gen))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() {
			_, err := e.Retrieve(ctx, vesselIncident(), RetrieveOptions{NumQueryVariants: 2})
			done <- err
		}()

		// When the request is cancelled while expansion is in flight
		select {
		case <-entered:
		case <-time.After(5 * time.Second):
			t.Fatal("expansion never started")
		}
		cancel()

		// Then no per-query work runs and the cancellation is returned
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("Retrieve did not return after cancel")
		}
		assert.Equal(t, int32(1), returned.Load())
	})
}

// Oversized k values are bounded by the corpus instead of overflowing
// the over-fetch arithmetic.
func TestEngine_HugeKPerQuery(t *testing.T) {
	e := newTestEngine(t, testConfig(), portCorpus(t))

	for _, restrict := range []bool{false, true} {
		incident := vesselIncident()
		incident.AffectedModule = "Vessel"

		res, err := e.Retrieve(context.Background(), incident, RetrieveOptions{
			KPerQuery:        1 << 61,
			TopKAfterRRF:     1 << 62,
			FinalTopK:        3,
			RestrictToModule: restrict,
		})

		require.NoError(t, err, "restrict=%v", restrict)
		assert.LessOrEqual(t, res.Metrics.NumLexicalCandidates, 5)
		assert.LessOrEqual(t, res.Metrics.NumVectorCandidates, 5)
		require.NotEmpty(t, res.Documents)
		assert.Equal(t, "A", res.Documents[0].ID())
	}
}

func TestOverfetch(t *testing.T) {
	assert.Equal(t, 4, overfetch(1, 10))
	assert.Equal(t, 8, overfetch(2, 10))
	assert.Equal(t, 10, overfetch(3, 10))
	assert.Equal(t, 10, overfetch(1<<62, 10))
	assert.Equal(t, 0, overfetch(5, 0))
}

func TestEngine_ReindexQueuedBehindClose(t *testing.T) {
	// Given a reindex waiting for the reindex lock
	e := newTestEngine(t, testConfig(), vesselCorpus(t))
	e.reindexMu.Lock()
	done := make(chan error, 1)
	go func() { done <- e.Reindex(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	// And a Close queued behind the same lock
	closed := make(chan error, 1)
	go func() { closed <- e.Close() }()
	require.Eventually(t, e.closed.Load, 5*time.Second, time.Millisecond)

	// When the lock is released
	e.reindexMu.Unlock()

	// Then the reindex publishes nothing onto the closed engine
	require.NoError(t, <-closed)
	assert.ErrorIs(t, <-done, ErrNotReady)
	assert.Nil(t, e.snapshot.Load())
	assert.Equal(t, uint64(1), e.version.Load())
}

func TestEngine_ClosedEngineIsNotReady(t *testing.T) {
	e := newTestEngine(t, testConfig(), vesselCorpus(t))
	require.NoError(t, e.Close())

	_, err := e.Retrieve(context.Background(), vesselIncident(), RetrieveOptions{})

	require.Error(t, err)
	assert.Equal(t, sferrors.ErrCodeNotReady, sferrors.GetCode(err))
	assert.ErrorIs(t, e.Reindex(context.Background()), ErrNotReady)
}

func TestNewEngine_Validation(t *testing.T) {
	t.Run("nil source", func(t *testing.T) {
		_, err := NewEngine(context.Background(), DefaultConfig(), nil)
		assert.ErrorIs(t, err, ErrNilDependency)
	})

	t.Run("negative weight", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.BM25Weight = -1
		_, err := NewEngine(context.Background(), cfg, StaticCorpus(vesselCorpus(t)))
		require.Error(t, err)
		assert.Equal(t, sferrors.ErrCodeConfigInvalid, sferrors.GetCode(err))
	})

	t.Run("source failure", func(t *testing.T) {
		failing := func(context.Context) (*corpus.Corpus, error) {
			return nil, sferrors.CorpusError("sops.json not found", nil)
		}
		_, err := NewEngine(context.Background(), DefaultConfig(), failing)
		require.Error(t, err)
	})
}

func TestEngine_ReindexIsolatesInFlightRequests(t *testing.T) {
	ctx := context.Background()

	// Given a source that will switch from three to five documents
	var current atomic.Pointer[corpus.Corpus]
	current.Store(vesselCorpus(t))
	source := func(context.Context) (*corpus.Corpus, error) { return current.Load(), nil }

	// And a generator that blocks the first request mid-pipeline
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	gen := llm.FuncGenerator(func(ctx context.Context, _, _ string) (string, error) {
		if calls.Add(1) == 1 {
			close(entered)
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return "vessel gate crane berth edi", nil
	})

	cfg := testConfig()
	cfg.UseLLMRerank = false
	cfg.ExpandTimeout = 10 * time.Second
	e, err := NewEngine(ctx, cfg, source, WithEmbedder(testEmbedder()), WithGenerator(gen))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	opts := RetrieveOptions{NumQueryVariants: 1, KPerQuery: 10, TopKAfterRRF: 10, FinalTopK: 10}
	type outcome struct {
		res *RetrievalResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.Retrieve(ctx, vesselIncident(), opts)
		done <- outcome{res, err}
	}()

	// When the corpus is reindexed while the first request is in flight
	<-entered
	current.Store(portCorpus(t))
	require.NoError(t, e.Reindex(ctx))
	close(release)
	first := <-done

	// Then the in-flight request sees only the old corpus
	require.NoError(t, first.err)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, candidateIDs(first.res.Documents))

	// And later requests see the new one
	second, err := e.Retrieve(ctx, vesselIncident(), opts)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C", "D", "E"}, candidateIDs(second.Documents))
	assert.Equal(t, uint64(2), e.Stats().Version)
	assert.Equal(t, 5, e.Stats().Documents)
}

func TestEngine_RecordsTelemetry(t *testing.T) {
	metrics := telemetry.NewQueryMetrics(nil, telemetry.DefaultConfig())
	t.Cleanup(func() { _ = metrics.Close() })
	e := newTestEngine(t, testConfig(), vesselCorpus(t), WithMetrics(metrics))

	_, err := e.Retrieve(context.Background(), vesselIncident(), RetrieveOptions{})
	require.NoError(t, err)
	_, err = e.Retrieve(context.Background(), IncidentContext{ProblemSummary: "kubernetes pod eviction"},
		RetrieveOptions{})
	require.NoError(t, err)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(2), snap.TotalRetrievals)
}

func TestEngine_Stats(t *testing.T) {
	e := newTestEngine(t, testConfig(), vesselCorpus(t))

	stats := e.Stats()

	assert.Equal(t, StateReady, stats.State)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, []string{"Vessel", "Gate", "EDI"}, stats.Modules)
	assert.True(t, stats.VectorReady)
	assert.Equal(t, 3, stats.VectorCount)
	assert.Equal(t, "static-64", stats.EmbedderModel)
	assert.Equal(t, "memory", stats.LexicalBackend)
	assert.Equal(t, uint64(1), stats.Version)
	assert.False(t, stats.Generator)
}

func TestEngine_Explain(t *testing.T) {
	e := newTestEngine(t, testConfig(), vesselCorpus(t))

	t.Run("shows each signal", func(t *testing.T) {
		ex, err := e.Explain(context.Background(), "duplicate vessel name", 3)

		require.NoError(t, err)
		require.NotEmpty(t, ex.Lexical)
		assert.Equal(t, "A", ex.Lexical[0].Document.ID)
		assert.Equal(t, 1.0, ex.Lexical[0].Score)
		require.Len(t, ex.Vector, 3)
		require.NotEmpty(t, ex.Hybrid)
		assert.Equal(t, "A", ex.Hybrid[0].ID())
		assert.Empty(t, ex.LexicalError)
		assert.Empty(t, ex.VectorError)
	})

	t.Run("rejects empty query", func(t *testing.T) {
		_, err := e.Explain(context.Background(), strings.Repeat(" ", 3), 3)

		require.Error(t, err)
		assert.Equal(t, sferrors.ErrCodeQueryEmpty, sferrors.GetCode(err))
	})
}
