// Package corpus holds the immutable SOP document collection that every
// retrieval snapshot is built from.
package corpus

import "strings"

// Kind distinguishes SOP corpora from historical case corpora. It only
// affects how loose records are coerced into Documents.
type Kind string

const (
	KindSOP  Kind = "sop"
	KindCase Kind = "case"
)

// Document is one SOP or historical case. Documents are values and are never
// mutated after a Corpus is built.
type Document struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Overview string `json:"overview" yaml:"overview"`
	Body     string `json:"body,omitempty" yaml:"body,omitempty"`
	Module   string `json:"module,omitempty" yaml:"module,omitempty"`
}

// Projection returns the text both indexes score: title and overview joined
// by a single space.
func (d Document) Projection() string {
	return d.Title + " " + d.Overview
}

// FullText returns every text field, used for entity overlap checks.
func (d Document) FullText() string {
	var sb strings.Builder
	sb.WriteString(d.Title)
	sb.WriteByte('\n')
	sb.WriteString(d.Overview)
	if d.Body != "" {
		sb.WriteByte('\n')
		sb.WriteString(d.Body)
	}
	return sb.String()
}
