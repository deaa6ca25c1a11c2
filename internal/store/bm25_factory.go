package store

import (
	"fmt"
	"sort"
)

// BM25Backend represents the lexical index backend type.
type BM25Backend string

const (
	// BM25BackendMemory is the exact BM25 Okapi implementation (default).
	BM25BackendMemory BM25Backend = "memory"

	// BM25BackendBleve uses an in-memory Bleve v2 index.
	BM25BackendBleve BM25Backend = "bleve"

	// BM25BackendSQLite uses an in-memory SQLite FTS5 table.
	BM25BackendSQLite BM25Backend = "sqlite"
)

// Backends lists the valid lexical backend names.
func Backends() []string {
	return []string{string(BM25BackendMemory), string(BM25BackendBleve), string(BM25BackendSQLite)}
}

// NewBM25IndexWithBackend creates a BM25Index using the specified backend.
//
// backend options:
//   - "memory" (default): exact Okapi scoring with the configured k1, b, epsilon
//   - "bleve": Bleve v2 with the SOP tokenizer registered as a custom analyzer
//   - "sqlite": SQLite FTS5 ranked by bm25()
func NewBM25IndexWithBackend(config BM25Config, backend string) (BM25Index, error) {
	switch BM25Backend(backend) {
	case BM25BackendMemory, "":
		return NewMemoryBM25Index(config), nil
	case BM25BackendBleve:
		return NewBleveBM25Index(config)
	case BM25BackendSQLite:
		return NewSQLiteBM25Index(config)
	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: memory, bleve, sqlite)", backend)
	}
}

// rankByPosition pads results with every indexed document the backend did
// not return at score 0, sorts by score descending breaking ties by the
// position each document was indexed at, and truncates to limit.
func rankByPosition(results []*BM25Result, position map[string]int, limit int) []*BM25Result {
	if len(results) < limit {
		returned := make(map[string]struct{}, len(results))
		for _, r := range results {
			returned[r.DocID] = struct{}{}
		}
		ids := make([]string, len(position))
		for id, pos := range position {
			ids[pos] = id
		}
		for _, id := range ids {
			if _, ok := returned[id]; !ok {
				results = append(results, &BM25Result{DocID: id})
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return position[results[i].DocID] < position[results[j].DocID]
	})
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []*BM25Result{}
	}
	return results
}
