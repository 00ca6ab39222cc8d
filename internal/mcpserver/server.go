// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes indexer control and inspection tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notidx/internal/apperr"
	"github.com/starford/notidx/internal/noteservice"
)

// IndexFormatURI is the resource describing the search_index row layout.
const IndexFormatURI = "notidx://index-format"

// Server wraps the MCP server with indexer tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all indexer tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"notidx",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("indexer_status",
		mcp.WithDescription("Current indexer state, pending notes and resources, office converter capability and the last tick report."),
	), s.indexerStatus)

	s.mcp.AddTool(mcp.NewTool("pause_indexing",
		mcp.WithDescription("Pause background indexing. The running tick stops at the next item boundary and flushes what it cached."),
	), s.pauseIndexing)

	s.mcp.AddTool(mcp.NewTool("resume_indexing",
		mcp.WithDescription("Resume background indexing and start a tick immediately."),
	), s.resumeIndexing)

	s.mcp.AddTool(mcp.NewTool("reindex_all",
		mcp.WithDescription("Flag every note and resource for re-extraction."),
	), s.reindexAll)

	s.mcp.AddTool(mcp.NewTool("reset_office",
		mcp.WithDescription("Forget the cached office converter capability so the next office document probes it again."),
	), s.resetOffice)

	s.mcp.AddTool(mcp.NewTool("index_rows",
		mcp.WithDescription("Return the search_index rows stored for a note. "+
			"See the "+IndexFormatURI+" resource for the row layout."),
		mcp.WithNumber("lid", mcp.Required(), mcp.Description("Local id of the note")),
	), s.indexRows)

	s.mcp.AddTool(mcp.NewTool("upload_payload",
		mcp.WithDescription("Store the attachment bytes of a resource from a data URI or an http(s) URL. "+
			"The resource is flagged for indexing when the bytes changed."),
		mcp.WithNumber("lid", mcp.Required(), mcp.Description("Local id of the resource")),
		mcp.WithString("url", mcp.Required(), mcp.Description("data:<mime>;base64,<data> or http(s) URL")),
	), s.uploadPayload)

	s.mcp.AddResource(
		mcp.NewResource(IndexFormatURI, "Search Index Format",
			mcp.WithResourceDescription("Layout and weighting of the rows in the search_index table."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readIndexFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// requireLid reads a positive integer argument sent as a JSON number or a string.
func requireLid(req mcp.CallToolRequest, key string) (int64, error) {
	raw, ok := req.GetArguments()[key]
	if !ok {
		return 0, fmt.Errorf("required argument %q not found", key)
	}
	var lid int64
	switch v := raw.(type) {
	case float64:
		lid = int64(v)
		if float64(lid) != v {
			return 0, fmt.Errorf("argument %q must be an integer", key)
		}
	case int:
		lid = int64(v)
	case int64:
		lid = v
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("argument %q must be an integer", key)
		}
		lid = n
	default:
		return 0, fmt.Errorf("argument %q must be an integer", key)
	}
	if lid <= 0 {
		return 0, fmt.Errorf("argument %q must be positive", key)
	}
	return lid, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found")
	}
	return mcp.NewToolResultError(err.Error())
}

type statusFunc func(ctx context.Context) (*noteservice.IndexerStatus, error)

func statusTool(fn statusFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := fn(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(st)
	}
}

func (s *Server) indexerStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return statusTool(s.svc.Status)(ctx, req)
}

func (s *Server) pauseIndexing(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return statusTool(s.svc.Pause)(ctx, req)
}

func (s *Server) resumeIndexing(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return statusTool(s.svc.Resume)(ctx, req)
}

func (s *Server) reindexAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return statusTool(s.svc.Reindex)(ctx, req)
}

func (s *Server) resetOffice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return statusTool(s.svc.ResetOffice)(ctx, req)
}

func (s *Server) indexRows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lid, err := requireLid(req, "lid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rows, err := s.svc.IndexRows(ctx, lid)
	if err != nil {
		return errorResult(err), nil
	}
	if len(rows) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no index rows for note %d", lid)), nil
	}
	return jsonResult(rows)
}

func (s *Server) readIndexFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      IndexFormatURI,
			MIMEType: "text/markdown",
			Text:     IndexFormatContract,
		},
	}, nil
}
