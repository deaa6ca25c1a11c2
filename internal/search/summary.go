package search

import (
	"fmt"
	"strings"
)

// Summarize renders the one-paragraph description of a retrieval.
func Summarize(incident IncidentContext, result *RetrievalResult) string {
	id := incident.IncidentID
	if id == "" {
		id = "(unknown)"
	}
	if len(result.Documents) == 0 {
		return fmt.Sprintf("No relevant SOPs found for incident %s. Manual review recommended.", id)
	}

	parts := []string{
		fmt.Sprintf("Retrieved %d SOP(s) for incident %s using hybrid search (BM25 + Vector + Multi-Query + RRF + Rerank).",
			len(result.Documents), id),
		fmt.Sprintf("Generated %d query variant(s).", len(result.Queries)),
		fmt.Sprintf("Processed %d candidates after RRF.", result.Metrics.NumAfterFusion),
		fmt.Sprintf("Top match: %s.", result.Documents[0].Document.Title),
	}
	if m := strings.TrimSpace(incident.AffectedModule); m != "" {
		parts = append(parts, fmt.Sprintf("Affected module: %s.", m))
	}
	if c := strings.TrimSpace(incident.ErrorCode); c != "" {
		parts = append(parts, fmt.Sprintf("Error code: %s.", c))
	}
	return strings.Join(parts, " ")
}
