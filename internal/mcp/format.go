package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/sopfusion/internal/casematch"
	"github.com/Aman-CERP/sopfusion/internal/search"
)

// FormatRetrieval renders a retrieval result as markdown.
func FormatRetrieval(r *search.RetrievalResult) string {
	if r == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## SOPs for incident %s\n\n", orUnknown(r.IncidentID))
	if r.Summary != "" {
		sb.WriteString(r.Summary)
		sb.WriteString("\n\n")
	}

	if len(r.Documents) == 0 {
		sb.WriteString("No matching SOPs.\n")
	} else {
		fmt.Fprintf(&sb, "Found %d SOP", len(r.Documents))
		if len(r.Documents) != 1 {
			sb.WriteString("s")
		}
		sb.WriteString("\n\n")
		for i, c := range r.Documents {
			formatCandidate(&sb, i+1, c)
		}
	}

	if len(r.Queries) > 1 {
		sb.WriteString("**Queries:**\n")
		for _, q := range r.Queries {
			fmt.Fprintf(&sb, "- %s\n", q)
		}
		sb.WriteString("\n")
	}

	if degraded := r.DegradedStages(); len(degraded) > 0 {
		fmt.Fprintf(&sb, "_Degraded stages: %s_\n", strings.Join(degraded, ", "))
	}
	return sb.String()
}

func formatCandidate(sb *strings.Builder, num int, c search.ScoredCandidate) {
	fmt.Fprintf(sb, "### %d. %s (%s)\n", num, c.Document.Title, c.Document.ID)
	if c.Document.Module != "" {
		fmt.Fprintf(sb, "**Module:** %s\n", c.Document.Module)
	}
	fmt.Fprintf(sb, "**Scores:** fusion %.4f, rerank %.2f, bm25 %.2f, vector %.2f (%s)\n\n",
		c.Scores.Fusion,
		c.Scores.Rerank,
		c.Scores.Lexical,
		c.Scores.Vector,
		matchReason(c),
	)
	if c.Document.Overview != "" {
		sb.WriteString(c.Document.Overview)
		sb.WriteString("\n\n")
	}
}

// matchReason explains which signals found a candidate.
func matchReason(c search.ScoredCandidate) string {
	switch c.Source {
	case search.SourceBoth:
		return "found by keyword and semantic search"
	case search.SourceVector:
		return "found by semantic search"
	default:
		return "found by keyword search"
	}
}

// FormatCaseMatches renders case matches as markdown.
func FormatCaseMatches(r *casematch.Result) string {
	if r == nil {
		return ""
	}
	if len(r.Matches) == 0 {
		return fmt.Sprintf("No similar cases found for incident %s (%d cases searched).", orUnknown(r.IncidentID), r.TotalCases)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Similar cases for incident %s\n\n", orUnknown(r.IncidentID))
	for i, m := range r.Matches {
		fmt.Fprintf(&sb, "### %d. %s (%s)\n", i+1, m.Case.Title, m.Case.ID)
		fmt.Fprintf(&sb, "**Score:** %.2f (similarity %.2f, entities %.2f, module %.2f)\n",
			m.Score.Final, m.Score.Similarity, m.Score.EntityOverlap, m.Score.ModuleMatch)
		if m.Validation != nil {
			verdict := "not similar"
			if m.Validation.IsSimilar {
				verdict = "similar"
			}
			fmt.Fprintf(&sb, "**Validation:** %s. %s\n", verdict, m.Validation.Reasoning)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func orUnknown(id string) string {
	if id == "" {
		return "(unknown)"
	}
	return id
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, lo, hi int) int {
	if limit <= 0 {
		return defaultVal
	}
	return max(lo, min(limit, hi))
}

// toCaseMatchesOutput converts matcher output, keeping at most limit matches.
func toCaseMatchesOutput(r *casematch.Result, limit int) MatchCasesOutput {
	out := MatchCasesOutput{
		IncidentID:       r.IncidentID,
		Matches:          make([]CaseMatchOutput, 0, len(r.Matches)),
		TotalCases:       r.TotalCases,
		ModuleFiltered:   r.ModuleFiltered,
		AboveThreshold:   r.AboveThreshold,
		SimilaritySource: r.SimilaritySource,
	}
	for i, m := range r.Matches {
		if limit > 0 && i >= limit {
			break
		}
		cm := CaseMatchOutput{
			CaseID:        m.Case.ID,
			Title:         m.Case.Title,
			Module:        m.Case.Module,
			Similarity:    m.Score.Similarity,
			EntityOverlap: m.Score.EntityOverlap,
			ModuleMatch:   m.Score.ModuleMatch,
			FinalScore:    m.Score.Final,
		}
		if m.Validation != nil {
			similar := m.Validation.IsSimilar
			cm.Validated = true
			cm.IsSimilar = &similar
			cm.Reasoning = m.Validation.Reasoning
		}
		out.Matches = append(out.Matches, cm)
	}
	return out
}
