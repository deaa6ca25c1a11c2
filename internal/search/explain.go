package search

import (
	"context"
	"strings"

	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
)

// Explanation shows how each signal ranked the corpus for a single query.
type Explanation struct {
	Query        string            `json:"query"`
	Lexical      []LexicalHit      `json:"lexical"`
	Vector       []VectorHit       `json:"vector"`
	Hybrid       []ScoredCandidate `json:"hybrid"`
	LexicalError string            `json:"lexical_error,omitempty"`
	VectorError  string            `json:"vector_error,omitempty"`
}

// Explain scores one raw query with both signals and the hybrid combination,
// without expansion, fusion or rerank.
func (e *Engine) Explain(ctx context.Context, query string, k int) (*Explanation, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, sferrors.New(sferrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if k <= 0 {
		k = e.config.Defaults.KPerQuery
	}

	snap, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer snap.release()
	k = min(k, snap.Corpus.Len())

	mq := &multiQuery{
		snap:          snap,
		bmWeight:      e.config.BM25Weight,
		vectorWeight:  e.config.VectorWeight,
		vectorTimeout: withTimeout(e.config.VectorTimeout),
		logger:        e.logger,
	}

	ex := &Explanation{Query: query, Lexical: []LexicalHit{}, Vector: []VectorHit{}}
	q := Query{Text: query}
	if lex, err := mq.searchLexical(ctx, q, k, k); err != nil {
		ex.LexicalError = err.Error()
	} else {
		ex.Lexical = lex
	}
	if vec, err := searchVector(ctx, snap.Vector, query, k, e.logger, mq.vectorTimeout); err != nil {
		ex.VectorError = err.Error()
	} else {
		ex.Vector = vec
	}
	ex.Hybrid = Combine(ex.Lexical, ex.Vector, e.config.BM25Weight, e.config.VectorWeight)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ex, nil
}
