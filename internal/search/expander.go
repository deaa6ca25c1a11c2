package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
	"github.com/Aman-CERP/sopfusion/internal/llm"
)

// DefaultOriginalQuery is used when an incident carries no usable field.
const DefaultOriginalQuery = "Technical incident report"

// maxQueryEntities caps the entities folded into the original query.
const maxQueryEntities = 5

const expandSystemPrompt = "You are an expert assistant that rewrites technical incident reports " +
	"into multiple precise search queries for Standard Operating Procedure retrieval."

const expandUserPrompt = `Original report summary:
%s

Primary search query:
%s

Generate %d alternative queries that:
1. Rephrase key technical terms and error descriptions
2. Introduce closely related troubleshooting vocabulary
3. Stay concise and focused on SOP retrieval
4. Remain highly relevant to the incident context

Return queries as plain text, one per line, without bullets or numbering.`

// listMarker matches leading bullets ("-", "*", "•") and numbering ("1.", "2)", "(3)").
var listMarker = regexp.MustCompile(`^(?:[-*•]+|\(?\d+[.)])\s+`)

// entityStrings renders usable entities as "type: value".
func entityStrings(entities []Entity, limit int) []string {
	var out []string
	for _, e := range entities {
		t, v := strings.TrimSpace(e.Type), strings.TrimSpace(e.Value)
		if t == "" || v == "" {
			continue
		}
		out = append(out, t+": "+v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// BuildOriginalQuery derives the deterministic query 0 of a request from the
// incident: error code, problem summary, module and up to five entities
// joined by " | ".
func BuildOriginalQuery(inc IncidentContext) string {
	var parts []string
	if code := strings.TrimSpace(inc.ErrorCode); code != "" {
		parts = append(parts, "Error code: "+code)
	}
	if summary := strings.TrimSpace(inc.ProblemSummary); summary != "" {
		parts = append(parts, summary)
	}
	if module := strings.TrimSpace(inc.AffectedModule); module != "" {
		parts = append(parts, "Module: "+module)
	}
	if ents := entityStrings(inc.Entities, maxQueryEntities); len(ents) > 0 {
		parts = append(parts, "Entities: "+strings.Join(ents, ", "))
	}
	if len(parts) == 0 {
		return DefaultOriginalQuery
	}
	return strings.Join(parts, " | ")
}

// reportContext renders the incident for the expansion prompt.
func reportContext(inc IncidentContext) string {
	or := func(v, def string) string {
		if v = strings.TrimSpace(v); v == "" {
			return def
		}
		return v
	}
	ents := strings.Join(entityStrings(inc.Entities, 0), ", ")
	return strings.Join([]string{
		"Problem summary: " + or(inc.ProblemSummary, "N/A"),
		"Affected module: " + or(inc.AffectedModule, "Unknown"),
		"Error code: " + or(inc.ErrorCode, "None"),
		"Entities: " + or(ents, "None"),
		"Additional notes: " + or(inc.AdditionalNotes, "None"),
	}, "\n")
}

// ExpansionOutcome is the query set of one request and how it was produced.
type ExpansionOutcome struct {
	Queries []string
	Outcome StageOutcome
}

// Expander turns an incident into its ordered query set. A nil generator
// always yields the original query only.
type Expander struct {
	gen     llm.Generator
	timeout time.Duration
	logger  *slog.Logger
}

// NewExpander creates an expander. timeout bounds each generation call.
func NewExpander(gen llm.Generator, timeout time.Duration, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{gen: gen, timeout: timeout, logger: logger}
}

// Expand returns [original, variant1..variantN]. Any generation failure
// degrades to [original].
func (x *Expander) Expand(ctx context.Context, inc IncidentContext, numVariants int) ExpansionOutcome {
	original := BuildOriginalQuery(inc)
	only := []string{original}

	if numVariants <= 0 {
		return ExpansionOutcome{Queries: only, Outcome: skippedOutcome(StageExpand, "no variants requested")}
	}
	if x == nil || x.gen == nil {
		return ExpansionOutcome{Queries: only, Outcome: skippedOutcome(StageExpand, "no generator configured")}
	}

	callCtx := ctx
	if x.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(expandUserPrompt, reportContext(inc), original, numVariants)
	resp, err := x.gen.Generate(callCtx, expandSystemPrompt, prompt)
	if err == nil {
		variants := parseVariants(resp, original, numVariants)
		if len(variants) > 0 {
			return ExpansionOutcome{
				Queries: append(only, variants...),
				Outcome: okOutcome(StageExpand),
			}
		}
		err = sferrors.MalformedResponse("query expansion returned no usable lines")
	}

	x.logger.Warn("query expansion failed, using original query only",
		slog.String("stage", StageExpand),
		slog.String("query", original),
		slog.String("error", err.Error()))
	return ExpansionOutcome{Queries: only, Outcome: degradedOutcome(StageExpand, err)}
}

// parseVariants splits a generation response into at most limit unique
// queries, none equal to original ignoring case.
func parseVariants(resp, original string, limit int) []string {
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(original)): true}
	var out []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(strings.TrimSpace(line), ""))
		line = strings.Trim(line, `"`)
		if line == "" {
			continue
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
		if len(out) == limit {
			break
		}
	}
	return out
}
