package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/sopfusion/internal/casematch"
	"github.com/Aman-CERP/sopfusion/internal/config"
	"github.com/Aman-CERP/sopfusion/internal/corpus"
	"github.com/Aman-CERP/sopfusion/internal/embed"
	"github.com/Aman-CERP/sopfusion/internal/logging"
	"github.com/Aman-CERP/sopfusion/internal/search"
)

func sopCorpus(t *testing.T) *corpus.Corpus {
	t.Helper()
	c, err := corpus.New(corpus.KindSOP, []corpus.Document{
		{ID: "A", Title: "Duplicate vessel name", Overview: "Vessel name conflicts during creation.", Body: "1. Check the vessel registry.", Module: "Vessel"},
		{ID: "B", Title: "Container gate-in failure", Overview: "Gate transaction rejected at terminal entry.", Module: "Gate"},
		{ID: "C", Title: "EDI message parse error", Overview: "Inbound EDI file malformed.", Module: "EDI"},
	})
	require.NoError(t, err)
	return c
}

func caseCorpus(t *testing.T) *corpus.Corpus {
	t.Helper()
	c, err := corpus.New(corpus.KindCase, []corpus.Document{
		{ID: "CASE-1", Title: "Duplicate vessel name on creation", Overview: "Vessel MSC ANNA created twice.", Module: "Vessel"},
		{ID: "CASE-2", Title: "Container gate-in rejected", Overview: "Gate transaction failed for container.", Module: "Container"},
	})
	require.NoError(t, err)
	return c
}

func newTestEngine(t *testing.T, opts ...search.EngineOption) *search.Engine {
	t.Helper()
	opts = append([]search.EngineOption{
		search.WithEmbedder(embed.NewStaticEmbedder(64)),
		search.WithLogger(logging.Discard()),
	}, opts...)
	e, err := search.NewEngine(context.Background(), search.DefaultConfig(), search.StaticCorpus(sopCorpus(t)), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func newTestMatcher(t *testing.T) *casematch.Matcher {
	t.Helper()
	m, err := casematch.NewMatcher(context.Background(), caseCorpus(t), casematch.DefaultConfig(),
		casematch.WithEmbedder(embed.NewStaticEmbedder(64)),
		casematch.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	return newTestServerWithEngine(t, newTestEngine(t), opts...)
}

func newTestServerWithEngine(t *testing.T, e *search.Engine, opts ...ServerOption) *Server {
	t.Helper()
	opts = append([]ServerOption{WithLogger(logging.Discard())}, opts...)
	srv, err := NewServer(e, config.NewConfig(), opts...)
	require.NoError(t, err)
	return srv
}

// requireMCPCode asserts err is an *MCPError carrying code.
func requireMCPCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	if assert.ErrorAs(t, err, &mcpErr) {
		assert.Equal(t, code, mcpErr.Code)
	}
}

func vesselArgs() map[string]any {
	return map[string]any{
		"incident": map[string]any{
			"incident_id":     "INC-001",
			"problem_summary": "duplicate vessel name",
			"affected_module": "Vessel",
			"entities": []any{
				map[string]any{"type": "vessel", "value": "MSC ANNA"},
			},
		},
	}
}
