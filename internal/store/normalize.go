package store

import "context"

// NormalizeScores min-max normalizes scores in place into [0, 1].
// If every score is equal (including a single result) all become 1.0.
func NormalizeScores(results []*BM25Result) {
	if len(results) == 0 {
		return
	}

	lo, hi := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < lo {
			lo = r.Score
		}
		if r.Score > hi {
			hi = r.Score
		}
	}

	span := hi - lo
	for _, r := range results {
		if span == 0 {
			r.Score = 1.0
			continue
		}
		r.Score = (r.Score - lo) / span
	}
}

// SearchNormalized runs idx.Search and min-max normalizes the returned scores.
// Order is unchanged.
func SearchNormalized(ctx context.Context, idx BM25Index, query string, k int) ([]*BM25Result, error) {
	results, err := idx.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	NormalizeScores(results)
	return results, nil
}
