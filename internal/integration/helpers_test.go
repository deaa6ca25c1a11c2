// Package integration exercises the engine, watcher and MCP server together
// against corpora on disk.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/sopfusion/internal/corpus"
	"github.com/Aman-CERP/sopfusion/internal/embed"
	"github.com/Aman-CERP/sopfusion/internal/logging"
	"github.com/Aman-CERP/sopfusion/internal/search"
)

const threeSOPs = `[
  {"id": "A", "title": "Duplicate vessel name", "overview": "Vessel name conflicts during creation.", "module": "Vessel", "body": "1. Check the vessel registry."},
  {"id": "B", "title": "Container gate-in failure", "overview": "Gate transaction rejected at terminal entry.", "module": "Gate"},
  {"id": "C", "title": "EDI message parse error", "overview": "Inbound EDI file malformed.", "module": "EDI"}
]`

const fourSOPs = `[
  {"id": "A", "title": "Duplicate vessel name", "overview": "Vessel name conflicts during creation.", "module": "Vessel", "body": "1. Check the vessel registry."},
  {"id": "B", "title": "Container gate-in failure", "overview": "Gate transaction rejected at terminal entry.", "module": "Gate"},
  {"id": "C", "title": "EDI message parse error", "overview": "Inbound EDI file malformed.", "module": "EDI"},
  {"id": "D", "title": "Reefer power alarm", "overview": "Refrigerated container loses power on the stack.", "module": "Reefer"}
]`

func writeCorpus(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fileSource reloads the corpus at path on every reindex.
func fileSource(path string) search.CorpusSource {
	return func(ctx context.Context) (*corpus.Corpus, error) {
		return corpus.Load(ctx, corpus.Source{Path: path, Kind: corpus.KindSOP})
	}
}

func newFileEngine(t *testing.T, path string, cfg search.Config) *search.Engine {
	t.Helper()
	e, err := search.NewEngine(context.Background(), cfg, fileSource(path),
		search.WithEmbedder(embed.NewStaticEmbedder(64)),
		search.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func corpusFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sops.json")
	writeCorpus(t, path, content)
	return path
}
