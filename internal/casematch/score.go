package casematch

import (
	"strings"

	"github.com/Aman-CERP/sopfusion/internal/search"
)

// Module match scores.
const (
	moduleExact     = 1.0
	moduleSubstring = 0.8
	moduleRelated   = 0.5
)

// moduleFamilies groups modules whose incidents tend to share root causes.
// Any two distinct families in this table are related to each other.
var moduleFamilies = map[string]string{
	"container": "container",
	"vessel":    "vessel",
	"edi/api":   "edi",
	"edi":       "edi",
	"api":       "edi",
}

// ModuleMatch scores how well a case's module fits the incident's module:
// 1.0 exact, 0.8 when one contains the other, 0.5 for related families,
// otherwise 0. Matching ignores case.
func ModuleMatch(incidentModule, caseModule string) float64 {
	q := strings.ToLower(strings.TrimSpace(incidentModule))
	c := strings.ToLower(strings.TrimSpace(caseModule))
	if q == "" || c == "" {
		return 0
	}
	if q == c {
		return moduleExact
	}
	if strings.Contains(c, q) || strings.Contains(q, c) {
		return moduleSubstring
	}
	qf, qok := moduleFamilies[q]
	cf, cok := moduleFamilies[c]
	if qok && cok && qf != cf {
		return moduleRelated
	}
	return 0
}

// EntityOverlap is the fraction of the incident's entity values that appear
// in text, ignoring case. No usable entities scores 0.
func EntityOverlap(entities []search.Entity, text string) float64 {
	lower := strings.ToLower(text)
	total, found := 0, 0
	for _, e := range entities {
		v := strings.ToLower(strings.TrimSpace(e.Value))
		if v == "" {
			continue
		}
		total++
		if strings.Contains(lower, v) {
			found++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(found) / float64(total)
}

// Score is the breakdown of one case's match.
type Score struct {
	Similarity    float64 `json:"similarity"`
	EntityOverlap float64 `json:"entity_overlap"`
	ModuleMatch   float64 `json:"module_match"`
	Final         float64 `json:"final"`
}

// combine computes the weighted final score clamped to [0, 1].
func (cfg Config) combine(s Score) Score {
	s.Final = clamp01(cfg.SimilarityWeight*s.Similarity +
		cfg.EntityWeight*s.EntityOverlap +
		cfg.ModuleWeight*s.ModuleMatch)
	return s
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
