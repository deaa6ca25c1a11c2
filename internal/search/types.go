// Package search implements hybrid multi-stage SOP retrieval: query expansion,
// BM25 + vector scoring per query, Reciprocal Rank Fusion across queries and
// a final rerank.
package search

import (
	"fmt"
	"time"

	"github.com/Aman-CERP/sopfusion/internal/corpus"
	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
)

// Entity is a named thing extracted from an incident report.
type Entity struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// IncidentContext is the structured output of incident parsing and the input
// to retrieval.
type IncidentContext struct {
	IncidentID      string   `json:"incident_id" yaml:"incident_id"`
	ProblemSummary  string   `json:"problem_summary" yaml:"problem_summary"`
	AffectedModule  string   `json:"affected_module,omitempty" yaml:"affected_module,omitempty"`
	ErrorCode       string   `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	Entities        []Entity `json:"entities,omitempty" yaml:"entities,omitempty"`
	AdditionalNotes string   `json:"additional_notes,omitempty" yaml:"additional_notes,omitempty"`
}

// Query is one search string of a request's query set plus an optional
// module restriction.
type Query struct {
	Text   string `json:"text"`
	Module string `json:"module,omitempty"`
}

// Source records which signal produced a candidate.
type Source string

const (
	SourceLexical Source = "lexical"
	SourceVector  Source = "vector"
	SourceBoth    Source = "both"
)

// sourceOf derives the provenance tag from signal presence.
func sourceOf(hasLexical, hasVector bool) Source {
	switch {
	case hasLexical && hasVector:
		return SourceBoth
	case hasVector:
		return SourceVector
	default:
		return SourceLexical
	}
}

// Scores holds the independent signals of one candidate. A signal a candidate
// never received is 0 here; presence is tracked on ScoredCandidate.
type Scores struct {
	Lexical float64 `json:"lexical_score"`
	Vector  float64 `json:"vector_score"`
	Hybrid  float64 `json:"hybrid_score"`
	Fusion  float64 `json:"fusion_score"`
	Rerank  float64 `json:"rerank_score"`
}

// ScoredCandidate is a document with its retrieval scores.
type ScoredCandidate struct {
	Document   corpus.Document `json:"document"`
	Scores     Scores          `json:"scores"`
	Source     Source          `json:"source"`
	HasLexical bool            `json:"has_lexical"`
	HasVector  bool            `json:"has_vector"`
}

// ID returns the candidate's document ID.
func (c ScoredCandidate) ID() string {
	return c.Document.ID
}

// Stage names used in StageOutcome.
const (
	StageExpand  = "expand"
	StageLexical = "lexical"
	StageVector  = "vector"
	StageRerank  = "rerank"
)

// StageStatus is the result of running one pipeline stage.
type StageStatus string

const (
	StatusOK       StageStatus = "ok"
	StatusDegraded StageStatus = "degraded"
	StatusSkipped  StageStatus = "skipped"
)

// StageOutcome reports how a stage ran. Degraded stages served their
// deterministic fallback; Reason says why.
type StageOutcome struct {
	Stage  string      `json:"stage"`
	Status StageStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

func okOutcome(stage string) StageOutcome {
	return StageOutcome{Stage: stage, Status: StatusOK}
}

func degradedOutcome(stage string, err error) StageOutcome {
	reason := "unknown failure"
	if err != nil {
		reason = err.Error()
	}
	return StageOutcome{Stage: stage, Status: StatusDegraded, Reason: reason}
}

func skippedOutcome(stage, reason string) StageOutcome {
	return StageOutcome{Stage: stage, Status: StatusSkipped, Reason: reason}
}

// RetrievalMetrics counts candidates at each stage of one retrieval.
type RetrievalMetrics struct {
	NumExpandedQueries   int     `json:"num_expanded_queries"`
	NumLexicalCandidates int     `json:"num_lexical_candidates"`
	NumVectorCandidates  int     `json:"num_vector_candidates"`
	NumMergedCandidates  int     `json:"num_merged_candidates"`
	NumAfterFusion       int     `json:"num_after_fusion"`
	NumFinalResults      int     `json:"num_final_results"`
	LexicalWeight        float64 `json:"lexical_weight"`
	VectorWeight         float64 `json:"vector_weight"`
	RRFK                 int     `json:"rrf_k"`
}

// RetrievalResult is the outcome of one Retrieve call. It is a pure function
// of the incident, the snapshot and the external responses.
type RetrievalResult struct {
	IncidentID string            `json:"incident_id"`
	Queries    []string          `json:"expanded_queries"`
	Documents  []ScoredCandidate `json:"documents"`
	Metrics    RetrievalMetrics  `json:"metrics"`
	Summary    string            `json:"summary"`
	Stages     []StageOutcome    `json:"stages"`
}

// DegradedStages returns the names of stages that did not run normally.
func (r *RetrievalResult) DegradedStages() []string {
	var out []string
	for _, s := range r.Stages {
		if s.Status == StatusDegraded {
			out = append(out, s.Stage)
		}
	}
	return out
}

// RetrieveOptions sizes one retrieval. Zero K sizes take the engine
// defaults; NumQueryVariants is taken as given, so 0 searches the original
// query only.
type RetrieveOptions struct {
	NumQueryVariants int `json:"num_query_variants"`
	KPerQuery        int `json:"k_per_query"`
	TopKAfterRRF     int `json:"top_k_after_rrf"`
	FinalTopK        int `json:"final_top_k"`

	// RestrictToModule keeps only documents tagged with the incident's
	// affected module.
	RestrictToModule bool `json:"restrict_to_module,omitempty"`
}

// DefaultRetrieveOptions returns the fan-out sizes used when none are given.
func DefaultRetrieveOptions() RetrieveOptions {
	return RetrieveOptions{
		NumQueryVariants: 3,
		KPerQuery:        10,
		TopKAfterRRF:     10,
		FinalTopK:        5,
	}
}

// withDefaults fills zero K sizes from def.
func (o RetrieveOptions) withDefaults(def RetrieveOptions) RetrieveOptions {
	if o.KPerQuery == 0 {
		o.KPerQuery = def.KPerQuery
	}
	if o.TopKAfterRRF == 0 {
		o.TopKAfterRRF = def.TopKAfterRRF
	}
	if o.FinalTopK == 0 {
		o.FinalTopK = def.FinalTopK
	}
	return o
}

// Validate rejects negative sizes.
func (o RetrieveOptions) Validate() error {
	check := func(name string, v int) error {
		if v < 0 {
			return sferrors.New(sferrors.ErrCodeInvalidOptions,
				fmt.Sprintf("%s must not be negative (got %d)", name, v), nil).
				WithDetail("option", name)
		}
		return nil
	}
	for _, c := range []struct {
		name string
		v    int
	}{
		{"num_query_variants", o.NumQueryVariants},
		{"k_per_query", o.KPerQuery},
		{"top_k_after_rrf", o.TopKAfterRRF},
		{"final_top_k", o.FinalTopK},
	} {
		if err := check(c.name, c.v); err != nil {
			return err
		}
	}
	return nil
}

// EngineState is the lifecycle state of the indexes.
type EngineState string

const (
	StateReady      EngineState = "ready"
	StateRebuilding EngineState = "rebuilding"
)

// EngineStats summarizes the serving snapshot.
type EngineStats struct {
	State          EngineState `json:"state"`
	Documents      int         `json:"documents"`
	Modules        []string    `json:"modules"`
	LexicalBackend string      `json:"lexical_backend"`
	VectorReady    bool        `json:"vector_ready"`
	VectorCount    int         `json:"vector_count"`
	VectorError    string      `json:"vector_error,omitempty"`
	EmbedderModel  string      `json:"embedder_model,omitempty"`
	Generator      bool        `json:"generator"`
	Version        uint64      `json:"snapshot_version"`
	BuiltAt        time.Time   `json:"built_at"`
	Fingerprint    string      `json:"fingerprint"`
}
