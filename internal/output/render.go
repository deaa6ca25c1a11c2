package output

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/sopfusion/internal/casematch"
	"github.com/Aman-CERP/sopfusion/internal/search"
)

// Retrieval prints a retrieval result: ranked SOPs, queries and stage outcomes.
func (w *Writer) Retrieval(r *search.RetrievalResult) {
	w.Header(fmt.Sprintf("SOPs for incident %s", orUnknown(r.IncidentID)))
	if len(r.Documents) == 0 {
		w.Status("", "no matching SOPs")
	}
	for i, c := range r.Documents {
		w.candidate(i+1, c)
	}

	w.Newline()
	w.Header("Queries")
	for i, q := range r.Queries {
		_, _ = fmt.Fprintf(w.out, "  %d. %s\n", i, q)
	}

	w.Newline()
	w.Header("Stages")
	for _, s := range r.Stages {
		w.stage(s)
	}
	m := r.Metrics
	w.KeyValue("candidates", fmt.Sprintf("lexical %d, vector %d, merged %d, fused %d, final %d",
		m.NumLexicalCandidates, m.NumVectorCandidates, m.NumMergedCandidates, m.NumAfterFusion, m.NumFinalResults))

	if r.Summary != "" {
		w.Newline()
		_, _ = fmt.Fprintln(w.out, r.Summary)
	}
}

func (w *Writer) candidate(rank int, c search.ScoredCandidate) {
	title := fmt.Sprintf("%d. %s", rank, c.Document.Title)
	line := fmt.Sprintf("  %s %s", title, w.styles.Dim.Render("["+c.Document.ID+"]"))
	if c.Document.Module != "" {
		line += " " + w.styles.Module.Render(c.Document.Module)
	}
	_, _ = fmt.Fprintln(w.out, line)
	_, _ = fmt.Fprintf(w.out, "     %s\n", w.styles.Score.Render(fmt.Sprintf(
		"fusion=%.4f rerank=%.2f bm25=%.2f vector=%.2f hybrid=%.2f source=%s",
		c.Scores.Fusion, c.Scores.Rerank, c.Scores.Lexical, c.Scores.Vector, c.Scores.Hybrid, c.Source)))
}

func (w *Writer) stage(s search.StageOutcome) {
	status := string(s.Status)
	switch s.Status {
	case search.StatusOK:
		status = w.styles.Success.Render(status)
	case search.StatusDegraded:
		status = w.styles.Warning.Render(status)
	default:
		status = w.styles.Dim.Render(status)
	}
	if s.Reason != "" {
		status += " " + w.styles.Dim.Render("("+s.Reason+")")
	}
	w.KeyValue(s.Stage, status)
}

// Explanation prints the lexical, vector and hybrid rankings of one query.
func (w *Writer) Explanation(ex *search.Explanation) {
	w.Header(fmt.Sprintf("Query: %s", ex.Query))

	w.Newline()
	w.Header("BM25 (normalized)")
	if ex.LexicalError != "" {
		w.Warning(ex.LexicalError)
	}
	for i, h := range ex.Lexical {
		w.hit(i+1, h.Document.ID, h.Document.Title, h.Score)
	}

	w.Newline()
	w.Header("Vector (similarity)")
	if ex.VectorError != "" {
		w.Warning(ex.VectorError)
	}
	for i, h := range ex.Vector {
		w.hit(i+1, h.Document.ID, h.Document.Title, h.Similarity)
	}

	w.Newline()
	w.Header("Hybrid")
	for i, c := range ex.Hybrid {
		w.hit(i+1, c.Document.ID, c.Document.Title, c.Scores.Hybrid)
	}
}

func (w *Writer) hit(rank int, id, title string, score float64) {
	_, _ = fmt.Fprintf(w.out, "  %2d. %s %s %s\n", rank,
		w.styles.Score.Render(fmt.Sprintf("%.4f", score)), title, w.styles.Dim.Render("["+id+"]"))
}

// CaseMatches prints historical case matches.
func (w *Writer) CaseMatches(r *casematch.Result) {
	w.Header(fmt.Sprintf("Similar cases for incident %s", orUnknown(r.IncidentID)))
	w.KeyValue("cases", r.TotalCases)
	w.KeyValue("module filtered", r.ModuleFiltered)
	w.KeyValue("above threshold", r.AboveThreshold)
	w.KeyValue("similarity", r.SimilaritySource)
	w.Newline()

	if len(r.Matches) == 0 {
		w.Status("", "no similar cases")
		return
	}
	for i, m := range r.Matches {
		_, _ = fmt.Fprintf(w.out, "  %d. %s %s\n", i+1, m.Case.Title, w.styles.Dim.Render("["+m.Case.ID+"]"))
		_, _ = fmt.Fprintf(w.out, "     %s\n", w.styles.Score.Render(fmt.Sprintf(
			"final=%.2f similarity=%.2f entities=%.2f module=%.2f",
			m.Score.Final, m.Score.Similarity, m.Score.EntityOverlap, m.Score.ModuleMatch)))
		if v := m.Validation; v != nil {
			verdict := w.styles.Warning.Render("not similar")
			if v.IsSimilar {
				verdict = w.styles.Success.Render("similar")
			}
			_, _ = fmt.Fprintf(w.out, "     %s %s\n", verdict, v.Reasoning)
		}
	}
}

// Stats prints the engine's serving snapshot.
func (w *Writer) Stats(s search.EngineStats) {
	w.Header("Index")
	w.KeyValue("state", s.State)
	w.KeyValue("documents", s.Documents)
	w.KeyValue("modules", strings.Join(s.Modules, ", "))
	w.KeyValue("lexical backend", s.LexicalBackend)
	vector := fmt.Sprintf("%d vectors", s.VectorCount)
	if !s.VectorReady {
		vector = w.styles.Warning.Render("unavailable")
		if s.VectorError != "" {
			vector += " " + w.styles.Dim.Render("("+s.VectorError+")")
		}
	}
	w.KeyValue("vector index", vector)
	if s.EmbedderModel != "" {
		w.KeyValue("embedder", s.EmbedderModel)
	}
	w.KeyValue("llm", s.Generator)
	w.KeyValue("snapshot", s.Version)
	w.KeyValue("fingerprint", s.Fingerprint)
}

func orUnknown(id string) string {
	if id == "" {
		return "(unknown)"
	}
	return id
}
