package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/sopfusion/internal/corpus"
)

func cand(id string, hybrid float64) ScoredCandidate {
	return ScoredCandidate{
		Document:   corpus.Document{ID: id, Title: id},
		Scores:     Scores{Lexical: hybrid, Hybrid: hybrid},
		Source:     SourceLexical,
		HasLexical: true,
	}
}

func TestFuseRRF_SumsReciprocalRanks(t *testing.T) {
	// Given two lists sharing document "a" at ranks 0 and 1
	lists := [][]ScoredCandidate{
		{cand("a", 0.9), cand("b", 0.5)},
		{cand("c", 0.8), cand("a", 0.4)},
	}

	// When fused with k = 60
	fused := FuseRRF(lists, 60, 0)

	// Then a collects 1/61 + 1/62 and leads
	require.Len(t, fused, 3)
	assert.Equal(t, "a", fused[0].ID())
	assert.InDelta(t, 1.0/61+1.0/62, fused[0].Scores.Fusion, 1e-12)
	assert.InDelta(t, 1.0/61, fused[1].Scores.Fusion, 1e-12)
	assert.InDelta(t, 1.0/62, fused[2].Scores.Fusion, 1e-12)
}

func TestFuseRRF_TopOfEveryListScoresNOverKPlusOne(t *testing.T) {
	// Given a document ranked first in all N lists
	const n = 4
	lists := make([][]ScoredCandidate, n)
	for i := range lists {
		lists[i] = []ScoredCandidate{cand("top", 1), cand("other", 0.1)}
	}

	// When fused
	fused := FuseRRF(lists, 60, 0)

	// Then its fusion score is exactly N/(k+1)
	require.NotEmpty(t, fused)
	assert.Equal(t, "top", fused[0].ID())
	assert.InDelta(t, float64(n)/61, fused[0].Scores.Fusion, 1e-12)
}

func TestFuseRRF_TiesBreakByID(t *testing.T) {
	// Given two documents each ranked first in one list
	lists := [][]ScoredCandidate{
		{cand("zeta", 0.9)},
		{cand("alpha", 0.1)},
	}

	// When fused
	fused := FuseRRF(lists, 60, 0)

	// Then equal fusion scores order by ID
	assert.Equal(t, []string{"alpha", "zeta"}, candidateIDs(fused))
}

func TestFuseRRF_KeepsBestScoresAndUnionOfSignals(t *testing.T) {
	// Given the same document seen lexically in one list and by vector in another
	lexOnly := cand("d", 0.3)
	vecOnly := ScoredCandidate{
		Document:  corpus.Document{ID: "d", Title: "d"},
		Scores:    Scores{Vector: 0.7, Hybrid: 0.42},
		Source:    SourceVector,
		HasVector: true,
	}

	// When fused
	fused := FuseRRF([][]ScoredCandidate{{lexOnly}, {vecOnly}}, 60, 0)

	// Then the fused candidate carries the max of each signal and both flags
	require.Len(t, fused, 1)
	got := fused[0]
	assert.Equal(t, 0.3, got.Scores.Lexical)
	assert.Equal(t, 0.7, got.Scores.Vector)
	assert.Equal(t, 0.42, got.Scores.Hybrid)
	assert.True(t, got.HasLexical)
	assert.True(t, got.HasVector)
	assert.Equal(t, SourceBoth, got.Source)
}

func TestFuseRRF_TruncatesToTopK(t *testing.T) {
	lists := [][]ScoredCandidate{{cand("a", 3), cand("b", 2), cand("c", 1)}}

	assert.Equal(t, []string{"a", "b"}, candidateIDs(FuseRRF(lists, 60, 2)))
	assert.Len(t, FuseRRF(lists, 60, 0), 3)
}

func TestFuseRRF_NonPositiveKUsesDefault(t *testing.T) {
	fused := FuseRRF([][]ScoredCandidate{{cand("a", 1)}}, 0, 0)

	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/float64(DefaultRRFConstant+1), fused[0].Scores.Fusion, 1e-12)
}

func TestFuseRRF_EmptyInput(t *testing.T) {
	assert.Empty(t, FuseRRF(nil, 60, 5))
	assert.Empty(t, FuseRRF([][]ScoredCandidate{{}, {}}, 60, 5))
}
