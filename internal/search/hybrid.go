package search

import "sort"

// Default hybrid weights and RRF constant.
const (
	DefaultBM25Weight   = 0.4
	DefaultVectorWeight = 0.6
	DefaultRRFConstant  = 60
)

// Combine merges one query's lexical and vector hits by document ID into
// hybrid candidates. A missing signal contributes 0 to
// hybrid = bmWeight*lexical + vectorWeight*vector.
//
// Output is sorted by hybrid score descending, ties by document ID.
func Combine(lexical []LexicalHit, vector []VectorHit, bmWeight, vectorWeight float64) []ScoredCandidate {
	byID := make(map[string]*ScoredCandidate, len(lexical)+len(vector))
	order := make([]string, 0, len(lexical)+len(vector))

	get := func(id string) *ScoredCandidate {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &ScoredCandidate{}
		byID[id] = c
		order = append(order, id)
		return c
	}

	for _, h := range lexical {
		c := get(h.Document.ID)
		c.Document = h.Document
		if !c.HasLexical || h.Score > c.Scores.Lexical {
			c.Scores.Lexical = h.Score
		}
		c.HasLexical = true
	}
	for _, h := range vector {
		c := get(h.Document.ID)
		c.Document = h.Document
		if !c.HasVector || h.Similarity > c.Scores.Vector {
			c.Scores.Vector = h.Similarity
		}
		c.HasVector = true
	}

	out := make([]ScoredCandidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		c.Scores.Hybrid = bmWeight*c.Scores.Lexical + vectorWeight*c.Scores.Vector
		c.Source = sourceOf(c.HasLexical, c.HasVector)
		out = append(out, *c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Scores.Hybrid != out[j].Scores.Hybrid {
			return out[i].Scores.Hybrid > out[j].Scores.Hybrid
		}
		return out[i].Document.ID < out[j].Document.ID
	})
	return out
}
