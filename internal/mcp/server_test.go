package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/sopfusion/internal/search"
)

func TestNewServer_RequiresEngine(t *testing.T) {
	// When: creating a server without an engine
	srv, err := NewServer(nil, nil)

	// Then: a nil dependency error is returned
	require.ErrorIs(t, err, search.ErrNilDependency)
	assert.Nil(t, srv)
}

func TestServer_Info(t *testing.T) {
	srv := newTestServer(t)

	name, ver := srv.Info()

	assert.Equal(t, "sopfusion", name)
	assert.NotEmpty(t, ver)
	assert.NotNil(t, srv.MCPServer())
}

func TestServer_ListTools(t *testing.T) {
	// Given: a server
	srv := newTestServer(t)

	// When: listing tools
	tools := srv.ListTools()

	// Then: the three tools are registered with descriptions
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
		assert.NotEmpty(t, tool.Description, tool.Name)
	}
	assert.Equal(t, []string{ToolRetrieveSOPs, ToolMatchCases, ToolIndexStatus}, names)
}

func TestServer_RetrieveSOPs(t *testing.T) {
	// Given: a server over the three-SOP corpus
	srv := newTestServer(t)

	// When: retrieving for a duplicate vessel incident
	res, err := srv.CallTool(context.Background(), ToolRetrieveSOPs, vesselArgs())

	// Then: the vessel SOP ranks first and the markdown names it
	require.NoError(t, err)
	out, ok := res.(*RetrieveSOPsOutput)
	require.True(t, ok)
	require.NotEmpty(t, out.Result.Documents)
	assert.Equal(t, "A", out.Result.Documents[0].Document.ID)
	assert.Equal(t, "INC-001", out.Result.IncidentID)
	assert.NotEmpty(t, out.RequestID)
	assert.Contains(t, out.Markdown, "Duplicate vessel name")
	assert.Contains(t, out.Markdown, "INC-001")
}

func TestServer_RetrieveSOPs_FinalTopK(t *testing.T) {
	// Given: a server
	srv := newTestServer(t)
	args := vesselArgs()
	args["final_top_k"] = 1
	args["num_query_variants"] = 0

	// When: asking for a single SOP
	res, err := srv.CallTool(context.Background(), ToolRetrieveSOPs, args)

	// Then: exactly one document is returned
	require.NoError(t, err)
	out := res.(*RetrieveSOPsOutput)
	assert.Len(t, out.Result.Documents, 1)
	assert.Equal(t, []string{"duplicate vessel name | Module: Vessel | Entities: vessel: MSC ANNA"}, out.Result.Queries)
}

func TestServer_RetrieveSOPs_OversizedK(t *testing.T) {
	// Given: a server
	srv := newTestServer(t)
	args := vesselArgs()
	args["k_per_query"] = 1 << 40
	args["top_k_after_rrf"] = 1 << 40
	args["num_query_variants"] = 0

	// When: asking for far more candidates than exist
	res, err := srv.CallTool(context.Background(), ToolRetrieveSOPs, args)

	// Then: the request is bounded and still answered
	require.NoError(t, err)
	out := res.(*RetrieveSOPsOutput)
	require.NotEmpty(t, out.Result.Documents)
	assert.Equal(t, "A", out.Result.Documents[0].Document.ID)
}

func TestServer_RetrieveSOPs_InvalidParams(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing incident", map[string]any{}},
		{"nil arguments", nil},
		{"blank summary", map[string]any{"incident": map[string]any{"problem_summary": "   "}}},
		{"wrong type", map[string]any{"incident": map[string]any{"problem_summary": "x"}, "k_per_query": "ten"}},
		{"negative size", map[string]any{"incident": map[string]any{"problem_summary": "x"}, "k_per_query": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: calling retrieve_sops with bad arguments
			_, err := srv.CallTool(context.Background(), ToolRetrieveSOPs, tt.args)

			// Then: invalid params is reported
			requireMCPCode(t, err, ErrCodeInvalidParams)
		})
	}
}

func TestServer_RetrieveSOPs_EngineClosed(t *testing.T) {
	// Given: a server whose engine has been closed
	e := newTestEngine(t)
	srv := newTestServerWithEngine(t, e)
	require.NoError(t, e.Close())

	// When: retrieving
	_, err := srv.CallTool(context.Background(), ToolRetrieveSOPs, vesselArgs())

	// Then: not ready is reported
	requireMCPCode(t, err, ErrCodeNotReady)
}

func TestServer_CallTool_UnknownTool(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.CallTool(context.Background(), "search_code", nil)

	requireMCPCode(t, err, ErrCodeMethodNotFound)
}

func TestServer_MatchCases_NotConfigured(t *testing.T) {
	// Given: a server without a case matcher
	srv := newTestServer(t)

	// When: matching cases
	_, err := srv.CallTool(context.Background(), ToolMatchCases, vesselArgs())

	// Then: the tool reports it is not available
	requireMCPCode(t, err, ErrCodeNotReady)
}

func TestServer_MatchCases(t *testing.T) {
	// Given: a server with a case matcher
	srv := newTestServer(t, WithCaseMatcher(newTestMatcher(t)))

	// When: matching the vessel incident
	res, err := srv.CallTool(context.Background(), ToolMatchCases, vesselArgs())

	// Then: the vessel case is the best match and unvalidated
	require.NoError(t, err)
	out, ok := res.(*MatchCasesOutput)
	require.True(t, ok)
	require.NotEmpty(t, out.Matches)
	assert.Equal(t, "CASE-1", out.Matches[0].CaseID)
	assert.False(t, out.Matches[0].Validated)
	assert.Nil(t, out.Matches[0].IsSimilar)
	assert.Equal(t, 2, out.TotalCases)
	assert.Equal(t, "INC-001", out.IncidentID)
}

func TestServer_MatchCases_Limit(t *testing.T) {
	// Given: a server with a case matcher
	srv := newTestServer(t, WithCaseMatcher(newTestMatcher(t)))
	args := vesselArgs()
	args["limit"] = 1

	// When: matching with a limit of one
	res, err := srv.CallTool(context.Background(), ToolMatchCases, args)

	// Then: at most one match is returned
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.(*MatchCasesOutput).Matches), 1)
}

func TestServer_MatchCases_ClosedMatcher(t *testing.T) {
	// Given: a matcher closed after registration
	m := newTestMatcher(t)
	srv := newTestServer(t, WithCaseMatcher(m))
	require.NoError(t, m.Close())

	// When: matching cases
	_, err := srv.CallTool(context.Background(), ToolMatchCases, vesselArgs())

	// Then: the tool reports it is not available
	requireMCPCode(t, err, ErrCodeNotReady)
}

func TestServer_IndexStatus(t *testing.T) {
	// Given: a server over a ready engine
	srv := newTestServer(t)

	// When: querying index status
	res, err := srv.CallTool(context.Background(), ToolIndexStatus, nil)

	// Then: the snapshot is described
	require.NoError(t, err)
	out, ok := res.(*IndexStatusOutput)
	require.True(t, ok)
	assert.Equal(t, string(search.StateReady), out.State)
	assert.Equal(t, 3, out.Corpus.Documents)
	assert.Equal(t, []string{"Vessel", "Gate", "EDI"}, out.Corpus.Modules)
	assert.Equal(t, uint64(1), out.Corpus.Version)
	assert.Equal(t, "memory", out.Lexical.Backend)
	assert.True(t, out.Embeddings.VectorReady)
	assert.Equal(t, "static-64", out.Embeddings.ActualModel)
	assert.Equal(t, "static", out.Embeddings.Provider)
	assert.False(t, out.LLM.Configured)
	assert.Empty(t, out.LLM.Model)
	assert.Nil(t, out.Cases)
}

func TestServer_IndexStatus_WithCases(t *testing.T) {
	// Given: a server with a case matcher swapped in after construction
	srv := newTestServer(t)
	srv.SetCaseMatcher(newTestMatcher(t))

	// When: querying index status
	out := srv.indexStatus()

	// Then: the case corpus is described
	require.NotNil(t, out.Cases)
	assert.Equal(t, 2, out.Cases.Count)
}

func TestServer_Serve_UnknownTransport(t *testing.T) {
	srv := newTestServer(t)

	err := srv.Serve(context.Background(), "sse")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func TestGenerateRequestID(t *testing.T) {
	a := generateRequestID()
	b := generateRequestID()

	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}
