// Package mcp exposes the component catalog to AI agents over the Model
// Context Protocol: search, lookup, export and the list of formats.
package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kitbay/kitbay/internal/export"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/store"
)

// MCPServer wraps the mcp-go server with Kitbay tool and resource
// registrations. Every call acts as one principal, fixed at construction;
// a nil principal sees only public, published components.
type MCPServer struct {
	store      *store.Store
	search     *service.SearchService
	exports    *service.ExportService
	dispatcher *export.Dispatcher
	principal  *service.Principal
	logger     *slog.Logger
	server     *server.MCPServer

	httpServer *server.StreamableHTTPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all Kitbay tools and
// resources. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(st *store.Store, search *service.SearchService, exports *service.ExportService,
	dispatcher *export.Dispatcher, principal *service.Principal, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		store:      st,
		search:     search,
		exports:    exports,
		dispatcher: dispatcher,
		principal:  principal,
		logger:     logger,
	}

	mcpServer := server.NewMCPServer(
		"Kitbay Component Catalog",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001"). It blocks until Shutdown.
func (s *MCPServer) ServeHTTP(addr string) error {
	s.httpServer = server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return s.httpServer.Start(addr)
}

// Shutdown stops a server started with ServeHTTP.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

// exportAnnotation marks the export tool: it bumps usage counters but never
// changes or removes catalog content.
func exportAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
