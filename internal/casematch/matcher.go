// Package casematch finds historical incident cases similar to a new
// incident. Cases are ranked by vector similarity, entity overlap and module
// affinity; the best few can be confirmed by a text generator.
package casematch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/sopfusion/internal/corpus"
	"github.com/Aman-CERP/sopfusion/internal/embed"
	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
	"github.com/Aman-CERP/sopfusion/internal/llm"
	"github.com/Aman-CERP/sopfusion/internal/search"
	"github.com/Aman-CERP/sopfusion/internal/store"
)

// ErrClosed is returned by Match after Close.
var ErrClosed = errors.New("case matcher closed")

// Similarity sources reported in Result.
const (
	SourceVector  = "vector"
	SourceLexical = "lexical"
)

// Config weights the score components and sizes each layer.
type Config struct {
	SimilarityWeight float64
	EntityWeight     float64
	ModuleWeight     float64
	// Threshold drops matches whose final score is below it.
	Threshold float64

	// Candidates is how many nearest cases enter scoring (default: 50).
	Candidates int
	// MaxResults caps the returned matches (default: 10).
	MaxResults int
	// ValidateTop is how many leading matches are sent for validation (default: 3).
	ValidateTop     int
	ValidateTimeout time.Duration
}

// DefaultConfig returns the default matcher configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityWeight: 0.7,
		EntityWeight:     0.2,
		ModuleWeight:     0.1,
		Threshold:        0.3,
		Candidates:       50,
		MaxResults:       10,
		ValidateTop:      3,
		ValidateTimeout:  30 * time.Second,
	}
}

func (cfg *Config) normalize() error {
	def := DefaultConfig()
	if cfg.SimilarityWeight < 0 || cfg.EntityWeight < 0 || cfg.ModuleWeight < 0 {
		return sferrors.ConfigError("case match weights must not be negative", nil)
	}
	if cfg.SimilarityWeight+cfg.EntityWeight+cfg.ModuleWeight == 0 {
		cfg.SimilarityWeight, cfg.EntityWeight, cfg.ModuleWeight = def.SimilarityWeight, def.EntityWeight, def.ModuleWeight
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = def.Candidates
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.ValidateTop < 0 {
		cfg.ValidateTop = 0
	}
	return nil
}

// Match is one historical case with its score and optional validation.
type Match struct {
	Case       corpus.Document `json:"case"`
	Score      Score           `json:"score"`
	Validation *Validation     `json:"validation,omitempty"`
}

// Result lists matches with the number of cases surviving each layer.
type Result struct {
	IncidentID       string  `json:"incident_id"`
	Matches          []Match `json:"matches"`
	TotalCases       int     `json:"total_cases"`
	ModuleFiltered   int     `json:"module_filtered_count"`
	AboveThreshold   int     `json:"above_threshold_count"`
	Validated        int     `json:"validated_count"`
	SimilaritySource string  `json:"similarity_source"`
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithEmbedder sets the embedder for case similarity. Without one the
// matcher uses normalized BM25 scores.
func WithEmbedder(e embed.Embedder) Option {
	return func(m *Matcher) { m.embedder = e }
}

// WithGenerator enables validation of the leading matches.
func WithGenerator(g llm.Generator) Option {
	return func(m *Matcher) { m.generator = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

// Matcher scores incidents against an indexed case corpus. It is safe for
// concurrent use.
type Matcher struct {
	cfg       Config
	embedder  embed.Embedder
	generator llm.Generator
	logger    *slog.Logger

	mu     sync.RWMutex
	snap   *search.Snapshot
	closed bool
}

// NewMatcher indexes cases and returns a ready matcher.
func NewMatcher(ctx context.Context, cases *corpus.Corpus, cfg Config, opts ...Option) (*Matcher, error) {
	if cases == nil {
		return nil, fmt.Errorf("%w: case corpus is required", search.ErrNilDependency)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	m := &Matcher{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}

	snap, err := search.BuildSnapshot(ctx, cases, search.BuildOptions{
		LexicalBackend: string(store.BM25BackendMemory),
		BM25:           store.DefaultBM25Config(),
		Embedder:       m.embedder,
		Logger:         m.logger,
	})
	if err != nil {
		return nil, err
	}
	m.snap = snap

	m.logger.Info("case index built",
		slog.Int("cases", cases.Len()),
		slog.Bool("vector_ready", snap.Vector != nil))
	return m, nil
}

// Len returns the number of indexed cases.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap == nil {
		return 0
	}
	return m.snap.Corpus.Len()
}

// Match ranks historical cases for inc.
func (m *Matcher) Match(ctx context.Context, inc search.IncidentContext) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	cases := m.snap.Corpus
	res := &Result{IncidentID: inc.IncidentID, Matches: []Match{}, TotalCases: cases.Len()}

	query := strings.TrimSpace(inc.ProblemSummary)
	if query == "" {
		query = search.BuildOriginalQuery(inc)
	}

	// 1. Similarity over the nearest cases
	fetch := m.cfg.Candidates
	if strings.TrimSpace(inc.AffectedModule) != "" {
		fetch = cases.Len()
	}
	sims, source, err := m.similarities(ctx, query, fetch)
	if err != nil {
		return nil, err
	}
	res.SimilaritySource = source

	// 2. Module prefilter
	var candidates []Match
	for _, s := range sims {
		mm := ModuleMatch(inc.AffectedModule, s.doc.Module)
		if inc.AffectedModule != "" && mm == 0 {
			continue
		}
		candidates = append(candidates, Match{Case: s.doc, Score: Score{
			Similarity:    clamp01(s.score),
			EntityOverlap: EntityOverlap(inc.Entities, s.doc.FullText()),
			ModuleMatch:   mm,
		}})
		if len(candidates) == m.cfg.Candidates {
			break
		}
	}
	res.ModuleFiltered = len(candidates)

	// 3. Weighted ranking above threshold
	for _, c := range candidates {
		c.Score = m.cfg.combine(c.Score)
		if c.Score.Final >= m.cfg.Threshold {
			res.Matches = append(res.Matches, c)
		}
	}
	res.AboveThreshold = len(res.Matches)
	sort.SliceStable(res.Matches, func(i, j int) bool {
		a, b := res.Matches[i], res.Matches[j]
		if a.Score.Final != b.Score.Final {
			return a.Score.Final > b.Score.Final
		}
		return a.Case.ID < b.Case.ID
	})
	if len(res.Matches) > m.cfg.MaxResults {
		res.Matches = res.Matches[:m.cfg.MaxResults]
	}

	// 4. Validation of the leaders
	res.Validated = m.validate(ctx, inc, res.Matches)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.logger.Info("case match complete",
		slog.String("incident_id", inc.IncidentID),
		slog.Int("candidates", res.ModuleFiltered),
		slog.Int("matches", len(res.Matches)),
		slog.Int("validated", res.Validated),
		slog.String("similarity_source", source),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

type scoredCase struct {
	doc   corpus.Document
	score float64
}

// similarities returns up to k cases with a similarity in [0, 1]. Vector
// similarity is used when the index is available; BM25 otherwise.
func (m *Matcher) similarities(ctx context.Context, query string, k int) ([]scoredCase, string, error) {
	if k <= 0 {
		return nil, SourceVector, nil
	}

	if m.snap.Vector != nil {
		hits, err := m.snap.Vector.Search(ctx, query, k)
		if err == nil {
			out := make([]scoredCase, len(hits))
			for i, h := range hits {
				out[i] = scoredCase{doc: h.Document, score: h.Similarity}
			}
			return out, SourceVector, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		m.logger.Warn("case vector search failed, using lexical similarity",
			slog.String("error", err.Error()))
	}

	raw, err := m.snap.Lexical.Search(ctx, query, k)
	if err != nil {
		return nil, "", sferrors.New(sferrors.ErrCodeSearchFailed, "case lexical search", err)
	}
	// Cases sharing no term with the query are not similar at all.
	matched := raw[:0]
	for _, r := range raw {
		if r.Score > 0 {
			matched = append(matched, r)
		}
	}
	raw = matched
	store.NormalizeScores(raw)
	out := make([]scoredCase, 0, len(raw))
	for _, r := range raw {
		if doc, ok := m.snap.Corpus.Get(r.DocID); ok {
			out = append(out, scoredCase{doc: doc, score: r.Score})
		}
	}
	return out, SourceLexical, nil
}

// validate judges the first ValidateTop matches concurrently. A failed
// judgment leaves the match unvalidated.
func (m *Matcher) validate(ctx context.Context, inc search.IncidentContext, matches []Match) int {
	n := min(m.cfg.ValidateTop, len(matches))
	if m.generator == nil || n == 0 {
		return 0
	}

	v := validator{gen: m.generator}
	results := make([]*Validation, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			callCtx, cancel := ctx, context.CancelFunc(func() {})
			if m.cfg.ValidateTimeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, m.cfg.ValidateTimeout)
			}
			defer cancel()

			val, err := v.validate(callCtx, inc, matches[i].Case)
			if err != nil {
				m.logger.Warn("case validation failed",
					slog.String("case_id", matches[i].Case.ID),
					slog.String("error", err.Error()))
				return nil
			}
			results[i] = val
			return nil
		})
	}
	_ = g.Wait()

	validated := 0
	for i, val := range results {
		if val != nil {
			matches[i].Validation = val
			validated++
		}
	}
	return validated
}

// Close releases the case index.
func (m *Matcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.snap != nil {
		m.snap.Close()
	}
	return nil
}
