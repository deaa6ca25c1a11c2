package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Aman-CERP/sopfusion/internal/store"
)

// moduleOverfetch widens per-signal fetches when results are filtered by
// module afterwards.
const moduleOverfetch = 4

// timeoutFn derives a bounded context for one external call.
type timeoutFn func(context.Context) (context.Context, context.CancelFunc)

func withTimeout(d time.Duration) timeoutFn {
	return func(ctx context.Context) (context.Context, context.CancelFunc) {
		if d <= 0 {
			return context.WithCancel(ctx)
		}
		return context.WithTimeout(ctx, d)
	}
}

// queryResult is the hybrid ranking of one query plus what went wrong
// producing it.
type queryResult struct {
	Query      Query
	Candidates []ScoredCandidate
	LexicalErr error
	VectorErr  error
}

// lexicalCount and vectorCount count candidates carrying each signal.
func (r queryResult) lexicalCount() int {
	n := 0
	for _, c := range r.Candidates {
		if c.HasLexical {
			n++
		}
	}
	return n
}

func (r queryResult) vectorCount() int {
	n := 0
	for _, c := range r.Candidates {
		if c.HasVector {
			n++
		}
	}
	return n
}

// multiQuery runs lexical + vector + hybrid scoring for every query of a
// request against one snapshot.
type multiQuery struct {
	snap          *Snapshot
	bmWeight      float64
	vectorWeight  float64
	parallelism   int
	vectorTimeout timeoutFn
	logger        *slog.Logger
}

// run scores every query with bounded parallelism. Results are in query
// order. A failed signal yields an empty list for that query; only
// cancellation of ctx is returned as an error.
func (m *multiQuery) run(ctx context.Context, queries []Query, k int) ([]queryResult, error) {
	results := make([]queryResult, len(queries))

	parallelism := m.parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	sem := semaphore.NewWeighted(int64(parallelism))
	g, gctx := errgroup.WithContext(ctx)

	for i, q := range queries {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			results[i] = m.searchOne(gctx, q, k)
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// searchOne runs both signals for q concurrently and combines them.
func (m *multiQuery) searchOne(ctx context.Context, q Query, k int) queryResult {
	var (
		lexical []LexicalHit
		vector  []VectorHit
		res     = queryResult{Query: q}
	)

	fetch := k
	if q.Module != "" {
		fetch = overfetch(k, m.snap.Corpus.Len())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, err := m.searchLexical(gctx, q, fetch, k)
		if err != nil {
			res.LexicalErr = err
			m.logger.Warn("lexical search failed",
				slog.String("stage", StageLexical),
				slog.String("query", q.Text),
				slog.String("error", err.Error()))
			return nil
		}
		lexical = hits
		return nil
	})

	g.Go(func() error {
		hits, err := searchVector(gctx, m.snap.Vector, q.Text, fetch, m.logger, m.vectorTimeout)
		if err != nil {
			res.VectorErr = err
			return nil
		}
		vector = filterVectorModule(hits, q.Module, k)
		return nil
	})

	_ = g.Wait()

	res.Candidates = Combine(lexical, vector, m.bmWeight, m.vectorWeight)
	return res
}

// overfetch widens k by moduleOverfetch without exceeding n.
func overfetch(k, n int) int {
	if k >= n/moduleOverfetch+1 {
		return n
	}
	return k * moduleOverfetch
}

// searchLexical returns up to k normalized hits. With a module restriction
// fetch raw results are filtered before normalization.
func (m *multiQuery) searchLexical(ctx context.Context, q Query, fetch, k int) ([]LexicalHit, error) {
	var (
		raw []*store.BM25Result
		err error
	)
	if q.Module == "" {
		raw, err = store.SearchNormalized(ctx, m.snap.Lexical, q.Text, k)
	} else {
		raw, err = m.snap.Lexical.Search(ctx, q.Text, fetch)
		if err == nil {
			raw = filterLexicalModule(raw, m.snap, q.Module, k)
			store.NormalizeScores(raw)
		}
	}
	if err != nil {
		return nil, err
	}

	hits := make([]LexicalHit, 0, len(raw))
	for _, r := range raw {
		doc, ok := m.snap.Corpus.Get(r.DocID)
		if !ok {
			continue
		}
		hits = append(hits, LexicalHit{Document: doc, Score: r.Score})
	}
	return hits, nil
}

func filterLexicalModule(raw []*store.BM25Result, snap *Snapshot, module string, k int) []*store.BM25Result {
	out := raw[:0]
	for _, r := range raw {
		doc, ok := snap.Corpus.Get(r.DocID)
		if ok && strings.EqualFold(doc.Module, module) {
			out = append(out, r)
			if len(out) == k {
				break
			}
		}
	}
	return out
}

func filterVectorModule(hits []VectorHit, module string, k int) []VectorHit {
	if module == "" {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		if strings.EqualFold(h.Document.Module, module) {
			out = append(out, h)
			if len(out) == k {
				break
			}
		}
	}
	return out
}
