package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
)

// Corpus is an ordered, immutable set of Documents with unique IDs.
// Insertion order is significant: lexical ties are broken by it.
type Corpus struct {
	docs []Document
	byID map[string]int
	kind Kind
}

// New validates docs and builds a Corpus. Titles are required and IDs must be
// unique; a blank ID is replaced by "<kind>-<index>".
func New(kind Kind, docs []Document) (*Corpus, error) {
	c := &Corpus{
		docs: make([]Document, 0, len(docs)),
		byID: make(map[string]int, len(docs)),
		kind: kind,
	}

	for i, d := range docs {
		d.ID = strings.TrimSpace(d.ID)
		d.Title = strings.TrimSpace(d.Title)
		d.Overview = strings.TrimSpace(d.Overview)
		d.Module = strings.TrimSpace(d.Module)

		if d.ID == "" {
			d.ID = fmt.Sprintf("%s-%d", kind, i)
		}
		if d.Title == "" {
			return nil, sferrors.CorpusError(fmt.Sprintf("record %d (%s) has no title", i, d.ID), nil).
				WithDetail("index", fmt.Sprint(i))
		}
		if prev, dup := c.byID[d.ID]; dup {
			return nil, sferrors.CorpusError(fmt.Sprintf("duplicate id %q at records %d and %d", d.ID, prev, i), nil)
		}

		c.byID[d.ID] = len(c.docs)
		c.docs = append(c.docs, d)
	}

	return c, nil
}

// Len returns the number of documents.
func (c *Corpus) Len() int {
	return len(c.docs)
}

// Kind returns what the corpus holds.
func (c *Corpus) Kind() Kind {
	return c.kind
}

// At returns the document at insertion position i.
func (c *Corpus) At(i int) Document {
	return c.docs[i]
}

// Get looks a document up by ID.
func (c *Corpus) Get(id string) (Document, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Document{}, false
	}
	return c.docs[i], true
}

// Position returns the insertion position of id, or -1.
func (c *Corpus) Position(id string) int {
	if i, ok := c.byID[id]; ok {
		return i
	}
	return -1
}

// Documents returns a copy of all documents in insertion order.
func (c *Corpus) Documents() []Document {
	out := make([]Document, len(c.docs))
	copy(out, c.docs)
	return out
}

// Modules returns the distinct non-empty module tags in first-seen order.
func (c *Corpus) Modules() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range c.docs {
		if d.Module != "" && !seen[d.Module] {
			seen[d.Module] = true
			out = append(out, d.Module)
		}
	}
	return out
}

// Fingerprint identifies the indexed content: IDs, projections and bodies in
// order. A persisted vector index is reusable only when fingerprints match.
func (c *Corpus) Fingerprint() string {
	h := sha256.New()
	for _, d := range c.docs {
		h.Write([]byte(d.ID))
		h.Write([]byte{0})
		h.Write([]byte(d.Projection()))
		h.Write([]byte{0})
		h.Write([]byte(d.Body))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
