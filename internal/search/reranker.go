package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
	"github.com/Aman-CERP/sopfusion/internal/llm"
)

// Reranker orders a candidate set by relevance to a query.
type Reranker interface {
	// Order returns a permutation of candidate indices, most relevant first.
	Order(ctx context.Context, query string, candidates []ScoredCandidate) ([]int, error)
}

const rerankSystemPrompt = `You are an expert at evaluating the relevance of Standard Operating Procedures (SOPs) to technical incidents.

Given an incident query and a list of candidate SOP titles/overviews, rank them by relevance.

Output format: Only return the indices of the SOPs in order of relevance (most relevant first), separated by commas.
Example: 2,0,4,1,3

Do NOT include explanations, only the comma-separated indices.`

const rerankUserPrompt = `Incident Query:
%s

Candidate SOPs:
%s

Rank by relevance (output indices only):`

// overviewExcerpt is the number of overview characters shown to the judge.
const overviewExcerpt = 200

// LLMReranker asks a text generator for a comma-separated index ordering.
type LLMReranker struct {
	gen llm.Generator
}

// NewLLMReranker creates an LLM-backed reranker.
func NewLLMReranker(gen llm.Generator) *LLMReranker {
	return &LLMReranker{gen: gen}
}

// Order implements Reranker.
func (r *LLMReranker) Order(ctx context.Context, query string, candidates []ScoredCandidate) ([]int, error) {
	resp, err := r.gen.Generate(ctx, rerankSystemPrompt, fmt.Sprintf(rerankUserPrompt, query, candidateList(candidates)))
	if err != nil {
		return nil, err
	}
	return parseRankIndices(resp, len(candidates))
}

func candidateList(candidates []ScoredCandidate) string {
	var sb strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n   Overview: %s\n\n", i, c.Document.Title, truncateRunes(c.Document.Overview, overviewExcerpt))
	}
	return sb.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// parseRankIndices reads a comma-separated index list. Only tokens made of
// digits count; in-range, unique indices are kept in response order and the
// missing ones appended in their original order. Zero valid indices is a
// malformed response.
func parseRankIndices(resp string, n int) ([]int, error) {
	seen := make([]bool, n)
	order := make([]int, 0, n)
	for _, tok := range strings.Split(strings.TrimSpace(resp), ",") {
		tok = strings.TrimSpace(tok)
		if !isDigits(tok) {
			continue
		}
		i, err := strconv.Atoi(tok)
		if err != nil || i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		order = append(order, i)
	}
	if len(order) == 0 {
		return nil, sferrors.MalformedResponse(fmt.Sprintf("rerank response has no valid index: %q", truncateRunes(resp, 80)))
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// OverlapReranker orders by token-set Jaccard overlap between the query and
// each candidate: 0.7 * J(title) + 0.3 * J(overview). Ties keep input order.
type OverlapReranker struct{}

// Order implements Reranker. It never fails.
func (OverlapReranker) Order(_ context.Context, query string, candidates []ScoredCandidate) ([]int, error) {
	q := tokenSet(query)
	scores := make([]float64, len(candidates))
	order := make([]int, len(candidates))
	for i, c := range candidates {
		order[i] = i
		scores[i] = 0.7*jaccard(q, tokenSet(c.Document.Title)) + 0.3*jaccard(q, tokenSet(c.Document.Overview))
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order, nil
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(s)) {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

var (
	_ Reranker = (*LLMReranker)(nil)
	_ Reranker = OverlapReranker{}
)

// RerankOutcome is the final ordering and how it was produced.
type RerankOutcome struct {
	Candidates []ScoredCandidate
	Outcome    StageOutcome
}

// RerankStage runs the primary reranker under a timeout and falls back to
// token overlap on any failure.
type RerankStage struct {
	primary  Reranker
	fallback OverlapReranker
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRerankStage creates a rerank stage. A nil primary always uses overlap
// ordering and reports the stage as skipped.
func NewRerankStage(primary Reranker, timeout time.Duration, logger *slog.Logger) *RerankStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RerankStage{primary: primary, timeout: timeout, logger: logger}
}

// Rerank orders candidates, assigns rerank = 1/(rank+1) and truncates to
// finalTopK (finalTopK <= 0 keeps all).
func (s *RerankStage) Rerank(ctx context.Context, query string, candidates []ScoredCandidate, finalTopK int) RerankOutcome {
	if len(candidates) == 0 {
		return RerankOutcome{Candidates: []ScoredCandidate{}, Outcome: skippedOutcome(StageRerank, "no candidates")}
	}

	var (
		order   []int
		outcome StageOutcome
	)
	if s.primary == nil {
		outcome = skippedOutcome(StageRerank, "llm rerank disabled, ranked by token overlap")
	} else {
		callCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		var err error
		order, err = s.primary.Order(callCtx, query, candidates)
		if err == nil {
			err = validatePermutation(order, len(candidates))
		}
		if err != nil {
			s.logger.Warn("rerank failed, using token overlap ordering",
				slog.String("stage", StageRerank),
				slog.String("query", query),
				slog.Int("candidates", len(candidates)),
				slog.String("error", err.Error()))
			order = nil
			outcome = degradedOutcome(StageRerank, err)
		} else {
			outcome = okOutcome(StageRerank)
		}
	}
	if order == nil {
		order, _ = s.fallback.Order(ctx, query, candidates)
	}

	out := make([]ScoredCandidate, 0, len(order))
	for rank, idx := range order {
		c := candidates[idx]
		c.Scores.Rerank = 1.0 / float64(rank+1)
		out = append(out, c)
	}
	if finalTopK > 0 && len(out) > finalTopK {
		out = out[:finalTopK]
	}
	return RerankOutcome{Candidates: out, Outcome: outcome}
}

// validatePermutation guards against custom rerankers returning a bad order.
func validatePermutation(order []int, n int) error {
	if len(order) != n {
		return sferrors.MalformedResponse(fmt.Sprintf("rerank returned %d indices for %d candidates", len(order), n))
	}
	seen := make([]bool, n)
	for _, i := range order {
		if i < 0 || i >= n || seen[i] {
			return sferrors.MalformedResponse(fmt.Sprintf("rerank returned invalid index %d", i))
		}
		seen[i] = true
	}
	return nil
}
