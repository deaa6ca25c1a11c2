package casematch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Aman-CERP/sopfusion/internal/corpus"
	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
	"github.com/Aman-CERP/sopfusion/internal/llm"
	"github.com/Aman-CERP/sopfusion/internal/search"
)

const validateSystemPrompt = "You are an experienced IT support analyst. Decide whether two incidents are the same kind of problem " +
	"by comparing their core symptoms, affected modules and error patterns. Answer with JSON only."

const validateUserPrompt = `Current incident:
- Summary: %s
- Affected module: %s
- Error code: %s
- Entities: %s

Historical case:
- Case ID: %s
- Problem: %s
- Module: %s
- Resolution: %s

Consider whether the problem type matches, whether the modules are related, whether the error patterns are similar and whether the resolution would apply.

Respond with a JSON object: {"is_similar": true or false, "reasoning": "one or two sentences"}`

// resolutionExcerpt bounds how much of a case body is shown to the judge.
const resolutionExcerpt = 200

// Validation is a generator's judgment of one match.
type Validation struct {
	IsSimilar bool   `json:"is_similar"`
	Reasoning string `json:"reasoning"`
}

// validator asks a generator whether a case resembles the incident.
type validator struct {
	gen llm.Generator
}

func (v validator) validate(ctx context.Context, inc search.IncidentContext, c corpus.Document) (*Validation, error) {
	prompt := fmt.Sprintf(validateUserPrompt,
		orDefault(inc.ProblemSummary, "N/A"),
		orDefault(inc.AffectedModule, "Unspecified"),
		orDefault(inc.ErrorCode, "None"),
		orDefault(entityList(inc.Entities), "None"),
		c.ID,
		c.Title+". "+c.Overview,
		orDefault(c.Module, "Unknown"),
		orDefault(excerpt(c.Body, resolutionExcerpt), "N/A"),
	)
	resp, err := v.gen.Generate(ctx, validateSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return parseValidation(resp)
}

// parseValidation reads the first JSON object in resp. Models often wrap the
// object in prose or a code fence.
func parseValidation(resp string) (*Validation, error) {
	start := strings.Index(resp, "{")
	end := strings.LastIndex(resp, "}")
	if start < 0 || end <= start {
		return nil, sferrors.MalformedResponse("case validation response has no JSON object")
	}

	var raw struct {
		IsSimilar *bool  `json:"is_similar"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(resp[start:end+1]), &raw); err != nil {
		return nil, sferrors.MalformedResponse("case validation response is not valid JSON: " + err.Error())
	}
	if raw.IsSimilar == nil {
		return nil, sferrors.MalformedResponse("case validation response lacks is_similar")
	}
	return &Validation{IsSimilar: *raw.IsSimilar, Reasoning: strings.TrimSpace(raw.Reasoning)}, nil
}

func entityList(entities []search.Entity) string {
	parts := make([]string, 0, len(entities))
	for _, e := range entities {
		if strings.TrimSpace(e.Value) == "" {
			continue
		}
		parts = append(parts, e.Type+": "+e.Value)
	}
	return strings.Join(parts, ", ")
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func excerpt(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}
