package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/sopfusion/internal/casematch"
	"github.com/Aman-CERP/sopfusion/internal/config"
	"github.com/Aman-CERP/sopfusion/internal/search"
	"github.com/Aman-CERP/sopfusion/internal/telemetry"
	"github.com/Aman-CERP/sopfusion/pkg/version"
)

const (
	ToolRetrieveSOPs = "retrieve_sops"
	ToolMatchCases   = "match_cases"
	ToolIndexStatus  = "index_status"
)

// Bounds on what a client may ask retrieve_sops for.
const (
	maxFinalTopK = 50
	maxKPerQuery = 200
)

// Server is the MCP server for sopfusion.
// It bridges AI clients with the retrieval engine and the case matcher.
type Server struct {
	mcp    *mcp.Server
	engine *search.Engine
	config *config.Config
	logger *slog.Logger

	// Optional, set via options.
	cases   *casematch.Matcher
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCaseMatcher enables the match_cases tool.
func WithCaseMatcher(m *casematch.Matcher) ServerOption {
	return func(s *Server) {
		s.cases = m
	}
}

// WithQueryMetrics exposes query telemetry as a resource.
func WithQueryMetrics(m *telemetry.QueryMetrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates an MCP server over engine. cfg may be nil.
func NewServer(engine *search.Engine, cfg *config.Config, opts ...ServerOption) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine is required", search.ErrNilDependency)
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine: engine,
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "sopfusion",
		Version: version.Short(),
	}, nil)

	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "sopfusion", version.Short()
}

// SetCaseMatcher swaps the case matcher, e.g. after the case corpus reloads.
func (s *Server) SetCaseMatcher(m *casematch.Matcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases = m
}

func (s *Server) caseMatcher() *casematch.Matcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cases
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        ToolRetrieveSOPs,
			Description: "Find the Standard Operating Procedures most relevant to an incident. Combines keyword and semantic search over several query phrasings, fuses the rankings and reranks the best candidates. Returns ranked SOPs with per-stage scores and a one-line summary.",
		},
		{
			Name:        ToolMatchCases,
			Description: "Find past incidents similar to this one. Scores historical cases by semantic similarity, shared entities and module, and optionally validates the top matches with an LLM.",
		},
		{
			Name:        ToolIndexStatus,
			Description: "Report whether the SOP index is ready, how many documents it holds and whether semantic search and the LLM are available.",
		},
	}
}

// CallTool dispatches a tool call with loosely typed arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolRetrieveSOPs:
		var in RetrieveSOPsInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.retrieve(ctx, in)
	case ToolMatchCases:
		var in MatchCasesInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.matchCases(ctx, in)
	case ToolIndexStatus:
		return s.indexStatus(), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, out any) error {
	if args == nil {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func (s *Server) retrieve(ctx context.Context, in RetrieveSOPsInput) (*RetrieveSOPsOutput, error) {
	inc := in.Incident.toIncident()
	if strings.TrimSpace(inc.ProblemSummary) == "" {
		return nil, NewInvalidParamsError("incident.problem_summary is required")
	}

	opts := search.RetrieveOptions{
		NumQueryVariants: s.engine.Defaults().NumQueryVariants,
		KPerQuery:        min(in.KPerQuery, maxKPerQuery),
		TopKAfterRRF:     min(in.TopKAfterRRF, maxKPerQuery),
		FinalTopK:        clampLimit(in.FinalTopK, 0, 1, maxFinalTopK),
		RestrictToModule: in.RestrictModule,
	}
	if in.NumQueryVariants != nil {
		opts.NumQueryVariants = *in.NumQueryVariants
	}

	requestID := generateRequestID()
	logger := s.logger.With(
		slog.String("request_id", requestID),
		slog.String("tool", ToolRetrieveSOPs),
		slog.String("incident_id", inc.IncidentID))

	start := time.Now()
	result, err := s.engine.Retrieve(ctx, inc, opts)
	if err != nil {
		logger.Warn("retrieve failed",
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	logger.Info("retrieve completed",
		slog.Int("results", len(result.Documents)),
		slog.Int("queries", len(result.Queries)),
		slog.Any("degraded", result.DegradedStages()),
		slog.Duration("duration", time.Since(start)))

	return &RetrieveSOPsOutput{
		RequestID: requestID,
		Result:    result,
		Markdown:  FormatRetrieval(result),
	}, nil
}

func (s *Server) matchCases(ctx context.Context, in MatchCasesInput) (*MatchCasesOutput, error) {
	matcher := s.caseMatcher()
	if matcher == nil {
		return nil, MapError(ErrCasesUnavailable)
	}
	inc := in.Incident.toIncident()
	if strings.TrimSpace(inc.ProblemSummary) == "" {
		return nil, NewInvalidParamsError("incident.problem_summary is required")
	}

	requestID := generateRequestID()
	start := time.Now()
	res, err := matcher.Match(ctx, inc)
	if err != nil {
		s.logger.Warn("case match failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		if errors.Is(err, casematch.ErrClosed) {
			return nil, MapError(ErrCasesUnavailable)
		}
		return nil, MapError(err)
	}

	s.logger.Info("case match completed",
		slog.String("request_id", requestID),
		slog.String("incident_id", inc.IncidentID),
		slog.Int("matches", len(res.Matches)),
		slog.Int("validated", res.Validated),
		slog.Duration("duration", time.Since(start)))

	out := toCaseMatchesOutput(res, in.Limit)
	return &out, nil
}

func (s *Server) indexStatus() *IndexStatusOutput {
	out := statusOutput(s.engine.Stats())
	out.Corpus.Path = s.config.Corpus.Path
	out.Embeddings.Provider = s.config.Embeddings.Provider
	out.Embeddings.Model = s.config.Embeddings.Model
	out.LLM.Provider = s.config.LLM.Provider
	if out.LLM.Configured {
		out.LLM.Model = s.config.LLM.Model
	}
	if m := s.caseMatcher(); m != nil {
		out.Cases = &CasesInfo{Path: s.config.CaseMatch.CasesPath, Count: m.Len()}
	}
	return out
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	tools := s.ListTools()

	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpRetrieveHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpMatchCasesHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpIndexStatusHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

// mcpRetrieveHandler is the MCP SDK handler for the retrieve_sops tool.
func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveSOPsInput) (
	*mcp.CallToolResult,
	*RetrieveSOPsOutput,
	error,
) {
	out, err := s.retrieve(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: out.Markdown}},
	}, out, nil
}

// mcpMatchCasesHandler is the MCP SDK handler for the match_cases tool.
func (s *Server) mcpMatchCasesHandler(ctx context.Context, _ *mcp.CallToolRequest, input MatchCasesInput) (
	*mcp.CallToolResult,
	*MatchCasesOutput,
	error,
) {
	out, err := s.matchCases(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	return nil, s.indexStatus(), nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "", "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
