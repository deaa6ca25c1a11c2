package search

import "sort"

// FuseRRF combines per-query hybrid rankings with Reciprocal Rank Fusion.
//
// Algorithm: fusion(d) = Σ 1 / (k + r_i + 1)
//
// Where:
//   - k = smoothing constant (default: 60)
//   - r_i = 0-based rank of d in list i; lists without d contribute 0
//
// Every distinct document is returned, sorted by fusion score descending with
// ties broken by ID, then truncated to topK (topK <= 0 keeps all). The fused
// candidate keeps the best lexical, vector and hybrid score seen in any list
// and the union of signal presence.
func FuseRRF(lists [][]ScoredCandidate, k int, topK int) []ScoredCandidate {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	byID := make(map[string]*ScoredCandidate)
	for _, list := range lists {
		for rank, c := range list {
			f, ok := byID[c.Document.ID]
			if !ok {
				f = &ScoredCandidate{Document: c.Document, Scores: Scores{
					Lexical: c.Scores.Lexical,
					Vector:  c.Scores.Vector,
					Hybrid:  c.Scores.Hybrid,
				}}
				byID[c.Document.ID] = f
			}
			f.Scores.Fusion += 1.0 / float64(k+rank+1)
			f.Scores.Lexical = max(f.Scores.Lexical, c.Scores.Lexical)
			f.Scores.Vector = max(f.Scores.Vector, c.Scores.Vector)
			f.Scores.Hybrid = max(f.Scores.Hybrid, c.Scores.Hybrid)
			f.HasLexical = f.HasLexical || c.HasLexical
			f.HasVector = f.HasVector || c.HasVector
		}
	}

	out := make([]ScoredCandidate, 0, len(byID))
	for _, f := range byID {
		f.Source = sourceOf(f.HasLexical, f.HasVector)
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scores.Fusion != out[j].Scores.Fusion {
			return out[i].Scores.Fusion > out[j].Scores.Fusion
		}
		return out[i].Document.ID < out[j].Document.ID
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
