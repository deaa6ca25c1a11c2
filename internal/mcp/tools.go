package mcp

import (
	"time"

	"github.com/Aman-CERP/sopfusion/internal/search"
)

// EntityInput is one extracted incident entity.
type EntityInput struct {
	Type  string `json:"type" jsonschema:"entity kind, e.g. vessel, container, error_code"`
	Value string `json:"value" jsonschema:"entity value as written in the incident"`
}

// IncidentInput is the incident context shared by retrieve_sops and match_cases.
type IncidentInput struct {
	IncidentID      string        `json:"incident_id,omitempty" jsonschema:"incident identifier used in the summary and logs"`
	ProblemSummary  string        `json:"problem_summary" jsonschema:"one or two sentence description of the problem"`
	AffectedModule  string        `json:"affected_module,omitempty" jsonschema:"system module the incident affects"`
	ErrorCode       string        `json:"error_code,omitempty" jsonschema:"error code reported by the system"`
	Entities        []EntityInput `json:"entities,omitempty" jsonschema:"entities extracted from the incident"`
	AdditionalNotes string        `json:"additional_notes,omitempty" jsonschema:"free-form notes"`
}

// toIncident converts tool input to the engine's incident type.
func (in IncidentInput) toIncident() search.IncidentContext {
	inc := search.IncidentContext{
		IncidentID:      in.IncidentID,
		ProblemSummary:  in.ProblemSummary,
		AffectedModule:  in.AffectedModule,
		ErrorCode:       in.ErrorCode,
		AdditionalNotes: in.AdditionalNotes,
	}
	for _, e := range in.Entities {
		inc.Entities = append(inc.Entities, search.Entity{Type: e.Type, Value: e.Value})
	}
	return inc
}

// RetrieveSOPsInput defines the input schema for the retrieve_sops tool.
type RetrieveSOPsInput struct {
	Incident         IncidentInput `json:"incident" jsonschema:"the parsed incident to find SOPs for"`
	NumQueryVariants *int          `json:"num_query_variants,omitempty" jsonschema:"number of LLM query variants, default from config"`
	KPerQuery        int           `json:"k_per_query,omitempty" jsonschema:"candidates per query and signal"`
	TopKAfterRRF     int           `json:"top_k_after_rrf,omitempty" jsonschema:"candidates kept after rank fusion"`
	FinalTopK        int           `json:"final_top_k,omitempty" jsonschema:"maximum number of SOPs returned"`
	RestrictModule   bool          `json:"restrict_to_module,omitempty" jsonschema:"only return SOPs tagged with the affected module"`
}

// RetrieveSOPsOutput defines the output schema for the retrieve_sops tool.
type RetrieveSOPsOutput struct {
	RequestID string                  `json:"request_id"`
	Result    *search.RetrievalResult `json:"result"`
	Markdown  string                  `json:"markdown" jsonschema:"human readable rendering of the result"`
}

// MatchCasesInput defines the input schema for the match_cases tool.
type MatchCasesInput struct {
	Incident IncidentInput `json:"incident" jsonschema:"the parsed incident to match against past cases"`
	Limit    int           `json:"limit,omitempty" jsonschema:"maximum number of matches, default from config"`
}

// CaseMatchOutput is one historical case in match_cases output.
type CaseMatchOutput struct {
	CaseID        string  `json:"case_id"`
	Title         string  `json:"title"`
	Module        string  `json:"module,omitempty"`
	Similarity    float64 `json:"similarity"`
	EntityOverlap float64 `json:"entity_overlap"`
	ModuleMatch   float64 `json:"module_match"`
	FinalScore    float64 `json:"final_score"`
	Validated     bool    `json:"validated"`
	IsSimilar     *bool   `json:"is_similar,omitempty"`
	Reasoning     string  `json:"reasoning,omitempty"`
}

// MatchCasesOutput defines the output schema for the match_cases tool.
type MatchCasesOutput struct {
	IncidentID       string            `json:"incident_id"`
	Matches          []CaseMatchOutput `json:"matches"`
	TotalCases       int               `json:"total_cases"`
	ModuleFiltered   int               `json:"module_filtered_count"`
	AboveThreshold   int               `json:"above_threshold_count"`
	SimilaritySource string            `json:"similarity_source"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	State      string        `json:"state"`
	Corpus     CorpusInfo    `json:"corpus"`
	Lexical    LexicalInfo   `json:"lexical"`
	Embeddings EmbeddingInfo `json:"embeddings"`
	LLM        LLMInfo       `json:"llm"`
	Cases      *CasesInfo    `json:"cases,omitempty"`
}

// CorpusInfo describes the SOP corpus behind the serving snapshot.
type CorpusInfo struct {
	Path        string   `json:"path,omitempty"`
	Documents   int      `json:"documents"`
	Modules     []string `json:"modules"`
	Fingerprint string   `json:"fingerprint"`
	Version     uint64   `json:"snapshot_version"`
	BuiltAt     string   `json:"built_at"`
}

// LexicalInfo describes the BM25 backend.
type LexicalInfo struct {
	Backend string `json:"backend"`
}

// EmbeddingInfo contains information about the embedding configuration.
type EmbeddingInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	// Runtime state so clients know whether semantic scores are in play.
	ActualModel string `json:"actual_model,omitempty"`
	VectorReady bool   `json:"vector_ready"`
	VectorCount int    `json:"vector_count"`
	Error       string `json:"error,omitempty"`
}

// LLMInfo describes the generator used for expansion and rerank.
type LLMInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	Configured bool   `json:"configured"`
}

// CasesInfo describes the historical case corpus.
type CasesInfo struct {
	Path  string `json:"path,omitempty"`
	Count int    `json:"count"`
}

func statusOutput(stats search.EngineStats) *IndexStatusOutput {
	modules := stats.Modules
	if modules == nil {
		modules = []string{}
	}
	return &IndexStatusOutput{
		State: string(stats.State),
		Corpus: CorpusInfo{
			Documents:   stats.Documents,
			Modules:     modules,
			Fingerprint: stats.Fingerprint,
			Version:     stats.Version,
			BuiltAt:     stats.BuiltAt.UTC().Format(time.RFC3339),
		},
		Lexical: LexicalInfo{Backend: stats.LexicalBackend},
		Embeddings: EmbeddingInfo{
			ActualModel: stats.EmbedderModel,
			VectorReady: stats.VectorReady,
			VectorCount: stats.VectorCount,
			Error:       stats.VectorError,
		},
		LLM: LLMInfo{Configured: stats.Generator},
	}
}
