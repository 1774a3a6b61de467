// Package mcp exposes the retrieval façade to agents over the Model Context
// Protocol, using the streamable HTTP transport.
package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/mcp/tools"
	"github.com/farmer-power/collection-engine/pkg/middleware"
	"github.com/farmer-power/collection-engine/pkg/services"
)

// Server wraps the mcp-go MCPServer.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// ToolDeps are the services the registered tools read from. Reconciler may
// be nil, in which case the health tool omits repair status.
type ToolDeps struct {
	Version    string
	Retrieval  services.RetrievalService
	Reconciler services.ReconciliationService
}

// NewServer creates a new MCP server instance.
func NewServer(name, version string, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
	)

	return &Server{
		mcp:    mcpServer,
		logger: logger.Named("mcp"),
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// RegisterTools adds the health tool and the read-only document tools.
func (s *Server) RegisterTools(deps ToolDeps) {
	tools.RegisterHealthTool(s.mcp, deps.Version, deps.Reconciler)
	tools.RegisterDocumentTools(s.mcp, &tools.DocumentToolDeps{
		Retrieval: deps.Retrieval,
		Logger:    s.logger,
	})
}

// RegisterTool is a convenience wrapper for registering a tool.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}

// NewStreamableHTTPServer creates an HTTP transport server wrapping this MCP server.
// The HTTP mux handles routing to /mcp, so no endpoint path is configured here.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}

// Handler returns the transport wrapped with per-call logging.
func (s *Server) Handler() http.Handler {
	return middleware.MCPRequestLogger(s.logger)(s.NewStreamableHTTPServer())
}

// RegisterRoutes mounts the MCP endpoint at /mcp.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	h := s.Handler()
	mux.Handle("POST /mcp", h)
	mux.Handle("GET /mcp", h)
	mux.Handle("DELETE /mcp", h)
}
