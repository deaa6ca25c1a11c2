package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// QueryMetricsURI serves the retrieval telemetry snapshot.
	QueryMetricsURI = "sopfusion://query_metrics"

	sopScheme      = "sop://"
	sopURITemplate = "sop://{id}"
)

// registerResources registers the SOP document template and, when telemetry
// is enabled, the query metrics resource.
func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(
		&mcp.ResourceTemplate{
			Name:        "sop",
			URITemplate: sopURITemplate,
			Description: "Full text of one SOP by ID",
			MIMEType:    "text/markdown",
		},
		func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.readSOP(ctx, req.Params.URI)
		},
	)

	if s.metrics != nil {
		s.mcp.AddResource(
			&mcp.Resource{
				Name:        "query_metrics",
				URI:         QueryMetricsURI,
				Description: "Retrieval telemetry: latency, degraded stages, top terms and zero-result queries",
				MIMEType:    "application/json",
			},
			func(context.Context, *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
				return s.readQueryMetrics()
			},
		)
	}
}

// readSOP renders the SOP named by a sop://<id> URI as markdown.
func (s *Server) readSOP(_ context.Context, uri string) (*mcp.ReadResourceResult, error) {
	id, ok := strings.CutPrefix(uri, sopScheme)
	if !ok || id == "" {
		return nil, NewResourceNotFoundError(uri)
	}

	c, err := s.engine.Corpus()
	if err != nil {
		return nil, MapError(err)
	}
	doc, found := c.Get(id)
	if !found {
		return nil, NewResourceNotFoundError(uri)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", doc.Title)
	if doc.Module != "" {
		fmt.Fprintf(&sb, "**Module:** %s\n\n", doc.Module)
	}
	if doc.Overview != "" {
		sb.WriteString(doc.Overview)
		sb.WriteString("\n\n")
	}
	if doc.Body != "" {
		sb.WriteString(doc.Body)
		sb.WriteString("\n")
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}

func (s *Server) readQueryMetrics() (*mcp.ReadResourceResult, error) {
	if s.metrics == nil {
		return nil, NewResourceNotFoundError(QueryMetricsURI)
	}

	snapshot := s.metrics.Snapshot()
	content, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      QueryMetricsURI,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
