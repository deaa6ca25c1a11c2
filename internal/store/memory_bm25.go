package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryBM25Index is an exact in-memory BM25 Okapi index.
//
// IDF is ln((N - n + 0.5) / (n + 0.5)); negative values are replaced by
// Epsilon times the average IDF over all corpus terms. Repeated query terms
// contribute once per occurrence.
type MemoryBM25Index struct {
	mu     sync.RWMutex
	config BM25Config
	closed bool

	ids     []string
	docLens []int
	freqs   []map[string]int // per document term frequencies
	df      map[string]int   // document frequency per term
	idf     map[string]float64
	avgDL   float64
}

var _ BM25Index = (*MemoryBM25Index)(nil)

// NewMemoryBM25Index creates an empty in-memory index.
func NewMemoryBM25Index(config BM25Config) *MemoryBM25Index {
	if config.K1 <= 0 {
		config.K1 = DefaultBM25Config().K1
	}
	if config.B < 0 || config.B > 1 {
		config.B = DefaultBM25Config().B
	}
	return &MemoryBM25Index{
		config: config,
		df:     make(map[string]int),
		idf:    make(map[string]float64),
	}
}

// Index adds documents and recomputes corpus statistics.
func (m *MemoryBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("index is closed")
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		tokens := Tokenize(doc.Content)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			m.df[term]++
		}
		m.ids = append(m.ids, doc.ID)
		m.docLens = append(m.docLens, len(tokens))
		m.freqs = append(m.freqs, tf)
	}

	m.recompute()
	return nil
}

// recompute refreshes avgDL and the IDF table. Caller holds the write lock.
func (m *MemoryBM25Index) recompute() {
	n := len(m.ids)
	total := 0
	for _, l := range m.docLens {
		total += l
	}
	m.avgDL = 0
	if n > 0 {
		m.avgDL = float64(total) / float64(n)
	}

	m.idf = make(map[string]float64, len(m.df))
	var idfSum float64
	var negative []string
	for term, freq := range m.df {
		v := math.Log((float64(n-freq) + 0.5) / (float64(freq) + 0.5))
		m.idf[term] = v
		idfSum += v
		if v < 0 {
			negative = append(negative, term)
		}
	}
	if len(m.idf) == 0 {
		return
	}
	floor := m.config.Epsilon * idfSum / float64(len(m.idf))
	for _, term := range negative {
		m.idf[term] = floor
	}
}

// Search scores every document against query.
func (m *MemoryBM25Index) Search(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("index is closed")
	}

	terms := Tokenize(query)
	if len(terms) == 0 || len(m.ids) == 0 || limit <= 0 {
		return []*BM25Result{}, nil
	}

	type scored struct {
		pos   int
		score float64
	}
	hits := make([]scored, 0, len(m.freqs))

	k1, b := m.config.K1, m.config.B
	for i, tf := range m.freqs {
		var score float64
		norm := 1 - b
		if m.avgDL > 0 {
			norm += b * float64(m.docLens[i]) / m.avgDL
		}
		for _, term := range terms {
			f, ok := tf[term]
			if !ok {
				continue
			}
			ff := float64(f)
			score += m.idf[term] * (ff * (k1 + 1)) / (ff + k1*norm)
		}
		hits = append(hits, scored{pos: i, score: score})
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]*BM25Result, len(hits))
	for i, h := range hits {
		results[i] = &BM25Result{DocID: m.ids[h.pos], Score: h.score}
	}
	return results, nil
}

// Stats returns index statistics.
func (m *MemoryBM25Index) Stats() *IndexStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &IndexStats{
		DocumentCount: len(m.ids),
		TermCount:     len(m.df),
		AvgDocLength:  m.avgDL,
	}
}

// Close releases the index. Further calls fail.
func (m *MemoryBM25Index) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.freqs = nil
	return nil
}
