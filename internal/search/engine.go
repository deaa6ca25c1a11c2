package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/sopfusion/internal/corpus"
	"github.com/Aman-CERP/sopfusion/internal/embed"
	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
	"github.com/Aman-CERP/sopfusion/internal/llm"
	"github.com/Aman-CERP/sopfusion/internal/store"
	"github.com/Aman-CERP/sopfusion/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// ErrNotReady is returned when the engine has no snapshot to serve.
var ErrNotReady = errors.New("engine not ready")

// CorpusSource loads the corpus a snapshot is built from. It is called once
// at construction and again on every Reindex.
type CorpusSource func(ctx context.Context) (*corpus.Corpus, error)

// StaticCorpus returns a CorpusSource that always yields c.
func StaticCorpus(c *corpus.Corpus) CorpusSource {
	return func(context.Context) (*corpus.Corpus, error) { return c, nil }
}

// Config holds the engine's weights, defaults and stage timeouts.
type Config struct {
	BM25Weight   float64
	VectorWeight float64
	RRFK         int

	Defaults RetrieveOptions

	// Parallelism bounds concurrent per-query work (default: 4).
	Parallelism int

	ExpandTimeout time.Duration
	VectorTimeout time.Duration
	RerankTimeout time.Duration

	LexicalBackend string
	BM25           store.BM25Config

	// DataDir holds the persisted vector index; empty disables loading it.
	DataDir string
	// PersistIndex saves freshly embedded vectors to DataDir.
	PersistIndex bool

	// UseLLMRerank enables the generator-backed reranker when a generator is set.
	UseLLMRerank bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		BM25Weight:     DefaultBM25Weight,
		VectorWeight:   DefaultVectorWeight,
		RRFK:           DefaultRRFConstant,
		Defaults:       DefaultRetrieveOptions(),
		Parallelism:    4,
		ExpandTimeout:  20 * time.Second,
		VectorTimeout:  10 * time.Second,
		RerankTimeout:  30 * time.Second,
		LexicalBackend: string(store.BM25BackendMemory),
		BM25:           store.DefaultBM25Config(),
		UseLLMRerank:   true,
	}
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithGenerator sets the text generator used for expansion and reranking.
func WithGenerator(g llm.Generator) EngineOption {
	return func(e *Engine) {
		e.generator = g
	}
}

// WithEmbedder sets the embedder used for the vector index.
func WithEmbedder(emb embed.Embedder) EngineOption {
	return func(e *Engine) {
		e.embedder = emb
	}
}

// WithReranker overrides the primary reranker.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) {
		e.reranker = r
	}
}

// WithMetrics sets an optional telemetry recorder.
func WithMetrics(r telemetry.Recorder) EngineOption {
	return func(e *Engine) {
		e.metrics = r
	}
}

// Engine is the retrieval orchestrator. It owns the serving snapshot and
// swaps it copy-on-write on Reindex; concurrent Retrieve calls need no lock.
type Engine struct {
	config    Config
	source    CorpusSource
	embedder  embed.Embedder
	generator llm.Generator
	reranker  Reranker
	metrics   telemetry.Recorder
	logger    *slog.Logger

	expander *Expander
	rerank   *RerankStage

	snapshot   atomic.Pointer[Snapshot]
	version    atomic.Uint64
	rebuilding atomic.Bool
	reindexMu  sync.Mutex
	closed     atomic.Bool
}

// NewEngine loads the corpus, builds the first snapshot and returns a Ready
// engine. Configuration failures are returned and leave no engine.
func NewEngine(ctx context.Context, cfg Config, source CorpusSource, opts ...EngineOption) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: corpus source is required", ErrNilDependency)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	e := &Engine{
		config: cfg,
		source: source,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.expander = NewExpander(e.generator, cfg.ExpandTimeout, e.logger)
	primary := e.reranker
	if primary == nil && e.generator != nil && cfg.UseLLMRerank {
		primary = NewLLMReranker(e.generator)
	}
	e.rerank = NewRerankStage(primary, cfg.RerankTimeout, e.logger)

	if err := e.Reindex(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func validateConfig(cfg *Config) error {
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFConstant
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.BM25Weight < 0 || cfg.VectorWeight < 0 {
		return sferrors.ConfigError("hybrid weights must not be negative", nil).
			WithDetail("bm25_weight", fmt.Sprint(cfg.BM25Weight)).
			WithDetail("vector_weight", fmt.Sprint(cfg.VectorWeight))
	}
	def := DefaultRetrieveOptions()
	cfg.Defaults = cfg.Defaults.withDefaults(def)
	return cfg.Defaults.Validate()
}

// Reindex reloads the corpus, builds a new snapshot off to the side and
// publishes it. Retrievals in flight finish on the snapshot they started
// with. A failed reindex keeps the current snapshot.
func (e *Engine) Reindex(ctx context.Context) error {
	if e.closed.Load() {
		return ErrNotReady
	}

	e.reindexMu.Lock()
	defer e.reindexMu.Unlock()
	// Close may have run while this call waited for the lock.
	if e.closed.Load() {
		return ErrNotReady
	}

	e.rebuilding.Store(true)
	defer e.rebuilding.Store(false)

	start := time.Now()
	c, err := e.source(ctx)
	if err != nil {
		return err
	}

	snap, err := BuildSnapshot(ctx, c, BuildOptions{
		LexicalBackend: e.config.LexicalBackend,
		BM25:           e.config.BM25,
		Embedder:       e.embedder,
		DataDir:        e.config.DataDir,
		Persist:        e.config.PersistIndex,
		Parallelism:    e.config.Parallelism,
		Logger:         e.logger,
	})
	if err != nil {
		return err
	}
	snap.Version = e.version.Add(1)

	old := e.snapshot.Swap(snap)
	if old != nil {
		old.retire()
	}

	e.logger.Info("snapshot published",
		slog.Uint64("version", snap.Version),
		slog.Int("documents", c.Len()),
		slog.String("lexical_backend", snap.Backend),
		slog.Bool("vector_ready", snap.Vector != nil),
		slog.Bool("vector_loaded", snap.Loaded),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// acquire pins the current snapshot for one request.
func (e *Engine) acquire() (*Snapshot, error) {
	for {
		snap := e.snapshot.Load()
		if snap == nil || e.closed.Load() {
			return nil, sferrors.New(sferrors.ErrCodeNotReady, "engine has no index to serve", ErrNotReady)
		}
		snap.acquire()
		// A concurrent swap may have retired snap before it was pinned.
		if e.snapshot.Load() == snap {
			return snap, nil
		}
		snap.release()
	}
}

// State reports Ready or Rebuilding. Reads keep being served from the
// previous snapshot while Rebuilding.
func (e *Engine) State() EngineState {
	if e.rebuilding.Load() {
		return StateRebuilding
	}
	return StateReady
}

// Retrieve runs the full pipeline for one incident. It fails only for
// configuration-level problems: invalid options, no snapshot, or a context
// cancelled before or during the call. Backend failures degrade stages.
func (e *Engine) Retrieve(ctx context.Context, incident IncidentContext, opts RetrieveOptions) (*RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults(e.config.Defaults)

	snap, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer snap.release()
	// No signal can return more documents than the snapshot holds.
	opts.KPerQuery = min(opts.KPerQuery, snap.Corpus.Len())

	start := time.Now()
	requestID := uuid.NewString()
	logger := e.logger.With(
		slog.String("request_id", requestID),
		slog.String("incident_id", incident.IncidentID))

	// 1. Expand
	expansion := e.expander.Expand(ctx, incident, opts.NumQueryVariants)
	queries := make([]Query, len(expansion.Queries))
	for i, text := range expansion.Queries {
		queries[i] = Query{Text: text}
		if opts.RestrictToModule {
			queries[i].Module = incident.AffectedModule
		}
	}

	// 2. Per-query lexical + vector + hybrid
	mq := &multiQuery{
		snap:          snap,
		bmWeight:      e.config.BM25Weight,
		vectorWeight:  e.config.VectorWeight,
		parallelism:   e.config.Parallelism,
		vectorTimeout: withTimeout(e.config.VectorTimeout),
		logger:        logger,
	}
	perQuery, err := mq.run(ctx, queries, opts.KPerQuery)
	if err != nil {
		return nil, err
	}

	metrics := RetrievalMetrics{
		NumExpandedQueries: len(queries),
		LexicalWeight:      e.config.BM25Weight,
		VectorWeight:       e.config.VectorWeight,
		RRFK:               e.config.RRFK,
	}
	lists := make([][]ScoredCandidate, len(perQuery))
	var lexErr, vecErr error
	for i, r := range perQuery {
		lists[i] = r.Candidates
		metrics.NumLexicalCandidates += r.lexicalCount()
		metrics.NumVectorCandidates += r.vectorCount()
		if r.LexicalErr != nil && lexErr == nil {
			lexErr = r.LexicalErr
		}
		if r.VectorErr != nil && vecErr == nil {
			vecErr = r.VectorErr
		}
	}

	// 3. Fuse
	merged := FuseRRF(lists, e.config.RRFK, 0)
	metrics.NumMergedCandidates = len(merged)
	fused := merged
	if opts.TopKAfterRRF > 0 && len(fused) > opts.TopKAfterRRF {
		fused = fused[:opts.TopKAfterRRF]
	}
	metrics.NumAfterFusion = len(fused)

	// 4. Rerank against the original query
	reranked := e.rerank.Rerank(ctx, queries[0].Text, fused, opts.FinalTopK)

	// 5. Assemble
	docs := dedupeByID(reranked.Candidates, opts.FinalTopK)
	metrics.NumFinalResults = len(docs)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &RetrievalResult{
		IncidentID: incident.IncidentID,
		Queries:    expansion.Queries,
		Documents:  docs,
		Metrics:    metrics,
		Stages: []StageOutcome{
			expansion.Outcome,
			signalOutcome(StageLexical, lexErr),
			vectorOutcome(snap, vecErr),
			reranked.Outcome,
		},
	}
	result.Summary = Summarize(incident, result)

	latency := time.Since(start)
	logger.Info("retrieval complete",
		slog.Int("queries", metrics.NumExpandedQueries),
		slog.Int("merged", metrics.NumMergedCandidates),
		slog.Int("results", metrics.NumFinalResults),
		slog.Any("degraded", result.DegradedStages()),
		slog.Duration("duration", latency))

	if e.metrics != nil {
		e.metrics.RecordRetrieval(telemetry.RetrievalEvent{
			RequestID:      requestID,
			IncidentID:     incident.IncidentID,
			Query:          queries[0].Text,
			Module:         incident.AffectedModule,
			NumQueries:     len(queries),
			ResultCount:    len(docs),
			DegradedStages: result.DegradedStages(),
			Latency:        latency,
			Timestamp:      start,
		})
	}
	return result, nil
}

func signalOutcome(stage string, err error) StageOutcome {
	if err != nil {
		return degradedOutcome(stage, err)
	}
	return okOutcome(stage)
}

func vectorOutcome(snap *Snapshot, err error) StageOutcome {
	if snap.Vector == nil {
		reason := snap.VectorErr
		if reason == nil {
			reason = errVectorUnavailable
		}
		return degradedOutcome(StageVector, reason)
	}
	return signalOutcome(StageVector, err)
}

// dedupeByID keeps the first occurrence of each document, up to limit.
func dedupeByID(cands []ScoredCandidate, limit int) []ScoredCandidate {
	seen := make(map[string]bool, len(cands))
	out := make([]ScoredCandidate, 0, len(cands))
	for _, c := range cands {
		if seen[c.Document.ID] {
			continue
		}
		seen[c.Document.ID] = true
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Stats describes the serving snapshot.
func (e *Engine) Stats() EngineStats {
	stats := EngineStats{State: e.State(), Generator: e.generator != nil}
	if e.embedder != nil {
		stats.EmbedderModel = e.embedder.ModelName()
	}
	snap, err := e.acquire()
	if err != nil {
		return stats
	}
	defer snap.release()

	stats.Documents = snap.Corpus.Len()
	stats.Modules = snap.Corpus.Modules()
	stats.LexicalBackend = snap.Backend
	stats.Version = snap.Version
	stats.BuiltAt = snap.BuiltAt
	stats.Fingerprint = snap.Fingerprint
	if snap.Vector != nil {
		stats.VectorReady = true
		stats.VectorCount = snap.Vector.Count()
	} else if snap.VectorErr != nil {
		stats.VectorError = snap.VectorErr.Error()
	}
	return stats
}

// Defaults returns the retrieve options applied when a caller gives none.
func (e *Engine) Defaults() RetrieveOptions {
	return e.config.Defaults
}

// Corpus returns the corpus of the serving snapshot.
func (e *Engine) Corpus() (*corpus.Corpus, error) {
	snap, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer snap.release()
	return snap.Corpus, nil
}

// Close retires the serving snapshot. In-flight requests finish first.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.reindexMu.Lock()
	defer e.reindexMu.Unlock()
	if snap := e.snapshot.Swap(nil); snap != nil {
		snap.retire()
	}
	return nil
}
