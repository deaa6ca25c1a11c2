package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/sopfusion/internal/corpus"
	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
	"github.com/Aman-CERP/sopfusion/internal/llm"
)

func rerankCandidates() []ScoredCandidate {
	return []ScoredCandidate{
		{Document: corpus.Document{ID: "B", Title: "Container gate-in failure", Overview: "Gate transaction rejected."}},
		{Document: corpus.Document{ID: "A", Title: "Duplicate vessel name", Overview: "Vessel name conflicts during creation."}},
		{Document: corpus.Document{ID: "C", Title: "EDI message parse error", Overview: "Inbound EDI file malformed."}},
	}
}

func TestParseRankIndices(t *testing.T) {
	tests := []struct {
		name string
		resp string
		want []int
	}{
		{"comma separated", "2,0,1", []int{2, 0, 1}},
		{"surrounding whitespace", " 2 , 0,\t1\n", []int{2, 0, 1}},
		{"missing appended in order", "2", []int{2, 0, 1}},
		{"out of range and repeats dropped", "7, 1, 1, -3, 0", []int{1, 0, 2}},
		{"digits inside prose ignored", "SOP-2 v3, 1", []int{1, 0, 2}},
		{"non-comma separators ignored", "2 ; 0, 1", []int{1, 0, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRankIndices(tt.resp, 3)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRankIndices_NoValidIndex(t *testing.T) {
	_, err := parseRankIndices("I cannot rank these", 3)

	require.Error(t, err)
	assert.Equal(t, sferrors.ErrCodeMalformedResponse, sferrors.GetCode(err))
}

func TestOverlapReranker_OrdersByTitleAndOverviewOverlap(t *testing.T) {
	order, err := OverlapReranker{}.Order(context.Background(), "duplicate vessel name", rerankCandidates())

	require.NoError(t, err)
	assert.Equal(t, 1, order[0], "the vessel SOP shares every query token")
	assert.Equal(t, []int{1, 0, 2}, order, "zero-overlap candidates keep input order")
}

func TestLLMReranker_PromptListsCandidates(t *testing.T) {
	// Given a generator answering with a ranking
	gen := llm.NewStaticGenerator("1,2,0")
	r := NewLLMReranker(gen)

	// When ordering
	order, err := r.Order(context.Background(), "duplicate vessel name", rerankCandidates())

	// Then the response is parsed and the prompt enumerates candidates by index
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, order)

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].User, "0. Container gate-in failure\n   Overview: Gate transaction rejected.")
	assert.Contains(t, calls[0].User, "1. Duplicate vessel name")
	assert.Contains(t, calls[0].User, "Incident Query:\nduplicate vessel name")
}

func TestRerankStage_AssignsReciprocalRankAndTruncates(t *testing.T) {
	stage := NewRerankStage(NewLLMReranker(llm.NewStaticGenerator("2,0,1")), time.Second, nil)

	out := stage.Rerank(context.Background(), "q", rerankCandidates(), 2)

	assert.Equal(t, StatusOK, out.Outcome.Status)
	require.Len(t, out.Candidates, 2)
	assert.Equal(t, []string{"C", "B"}, candidateIDs(out.Candidates))
	assert.Equal(t, 1.0, out.Candidates[0].Scores.Rerank)
	assert.Equal(t, 0.5, out.Candidates[1].Scores.Rerank)
}

func TestRerankStage_FallsBackToOverlap(t *testing.T) {
	tests := []struct {
		name    string
		primary Reranker
	}{
		{"generator error", NewLLMReranker(llm.NewFailingGenerator(errors.New("model offline")))},
		{"unparseable response", NewLLMReranker(llm.NewStaticGenerator("none of these"))},
		{"timeout", NewLLMReranker(llm.FuncGenerator(func(ctx context.Context, _, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}))},
		{"invalid permutation", &recordingReranker{order: []int{0, 0, 1}}},
		{"short permutation", &recordingReranker{order: []int{2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := NewRerankStage(tt.primary, 20*time.Millisecond, nil)

			out := stage.Rerank(context.Background(), "duplicate vessel name", rerankCandidates(), 0)

			assert.Equal(t, StatusDegraded, out.Outcome.Status)
			assert.Equal(t, []string{"A", "B", "C"}, candidateIDs(out.Candidates))
			assert.Equal(t, 1.0, out.Candidates[0].Scores.Rerank)
		})
	}
}

func TestRerankStage_NoPrimaryIsSkipped(t *testing.T) {
	stage := NewRerankStage(nil, time.Second, nil)

	out := stage.Rerank(context.Background(), "duplicate vessel name", rerankCandidates(), 1)

	assert.Equal(t, StatusSkipped, out.Outcome.Status)
	assert.Equal(t, []string{"A"}, candidateIDs(out.Candidates))
}

func TestRerankStage_EmptyCandidates(t *testing.T) {
	stage := NewRerankStage(&recordingReranker{}, time.Second, nil)

	out := stage.Rerank(context.Background(), "q", nil, 5)

	assert.Empty(t, out.Candidates)
	assert.Equal(t, StatusSkipped, out.Outcome.Status)
}
