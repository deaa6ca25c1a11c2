package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	sferrors "github.com/Aman-CERP/sopfusion/internal/errors"
)

// Format names a corpus source encoding.
type Format string

const (
	FormatAuto   Format = "auto"
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatSQLite Format = "sqlite"
)

// Source describes where a corpus comes from.
type Source struct {
	Path   string
	Format Format
	// Table is read for sqlite sources. Defaults to "sops".
	Table string
	Kind  Kind
}

// Load reads and validates the corpus described by src. Every failure is a
// fatal configuration error.
func Load(ctx context.Context, src Source) (*Corpus, error) {
	if src.Path == "" {
		return nil, sferrors.New(sferrors.ErrCodeCorpusNotFound, "corpus path is not configured", nil).
			WithSuggestion("Set corpus.path in .sopfusion.yaml or pass --corpus")
	}
	if src.Kind == "" {
		src.Kind = KindSOP
	}

	if _, err := os.Stat(src.Path); err != nil {
		return nil, sferrors.New(sferrors.ErrCodeCorpusNotFound, fmt.Sprintf("corpus not found: %s", src.Path), err).
			WithDetail("path", src.Path)
	}

	format := src.Format
	if format == "" || format == FormatAuto {
		format = DetectFormat(src.Path)
	}

	var (
		records []map[string]any
		err     error
	)
	switch format {
	case FormatJSON, FormatYAML:
		f, openErr := os.Open(src.Path)
		if openErr != nil {
			return nil, sferrors.New(sferrors.ErrCodeFilePermission, "cannot open corpus", openErr)
		}
		defer func() { _ = f.Close() }()
		if format == FormatJSON {
			records, err = decodeJSON(f)
		} else {
			records, err = decodeYAML(f)
		}
	case FormatSQLite:
		table := src.Table
		if table == "" {
			table = "sops"
		}
		records, err = readSQLite(ctx, src.Path, table)
	default:
		return nil, sferrors.ConfigError(fmt.Sprintf("unsupported corpus format %q", format), nil)
	}
	if err != nil {
		return nil, sferrors.CorpusError(fmt.Sprintf("failed to read corpus %s", src.Path), err)
	}

	return FromRecords(src.Kind, records)
}

// DetectFormat picks a format from the file extension. Unknown extensions
// are treated as JSON.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	default:
		return FormatJSON
	}
}

// LoadJSON reads a JSON array of records.
func LoadJSON(kind Kind, r io.Reader) (*Corpus, error) {
	records, err := decodeJSON(r)
	if err != nil {
		return nil, sferrors.CorpusError("invalid JSON corpus", err)
	}
	return FromRecords(kind, records)
}

// LoadYAML reads a YAML sequence of records.
func LoadYAML(kind Kind, r io.Reader) (*Corpus, error) {
	records, err := decodeYAML(r)
	if err != nil {
		return nil, sferrors.CorpusError("invalid YAML corpus", err)
	}
	return FromRecords(kind, records)
}

func decodeJSON(r io.Reader) ([]map[string]any, error) {
	var records []map[string]any
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

func decodeYAML(r io.Reader) ([]map[string]any, error) {
	var records []map[string]any
	if err := yaml.NewDecoder(r).Decode(&records); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

// FromRecords coerces loosely shaped records into Documents. Keys are matched
// case-insensitively.
func FromRecords(kind Kind, records []map[string]any) (*Corpus, error) {
	docs := make([]Document, 0, len(records))
	for _, rec := range records {
		docs = append(docs, toDocument(kind, newFields(rec)))
	}
	return New(kind, docs)
}

type fields map[string]any

func newFields(rec map[string]any) fields {
	f := make(fields, len(rec))
	for k, v := range rec {
		f[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return f
}

// str returns the first non-empty value among keys, rendered as text.
func (f fields) str(keys ...string) string {
	for _, k := range keys {
		if v, ok := f[k]; ok {
			if s := strings.TrimSpace(render(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// render flattens scalars, lists and maps into plain text. Lists become one
// item per line, maps become sorted "key: value" lines.
func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(render(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+render(t[k]))
		}
		return strings.Join(parts, "\n")
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}

func toDocument(kind Kind, f fields) Document {
	d := Document{
		ID:       f.str("id", "sop_id", "case_id"),
		Title:    f.str("title", "sop_title"),
		Overview: f.str("overview", "summary", "description"),
		Body:     f.str("body", "content"),
		Module:   f.str("module", "affected_module"),
	}

	if kind == KindCase {
		problem := f.str("problem", "problem_statement")
		if d.Title == "" {
			d.Title = firstLine(problem, 120)
		}
		if d.Overview == "" {
			d.Overview = problem
		}
	}

	if d.Body == "" {
		d.Body = assembleBody(f)
	}
	return d
}

// assembleBody builds Body from SOP sections or case problem/solution.
func assembleBody(f fields) string {
	sections := []struct{ key, label string }{
		{"preconditions", "Preconditions"},
		{"resolution", "Resolution"},
		{"verification", "Verification"},
		{"problem", "Problem"},
		{"solution", "Solution"},
	}

	var parts []string
	for _, s := range sections {
		if v := f.str(s.key); v != "" {
			parts = append(parts, s.label+":\n"+v)
		}
	}
	return strings.Join(parts, "\n\n")
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > max {
		return string(r[:max])
	}
	return s
}
