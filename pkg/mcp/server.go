// Package mcp exposes the screening engine to MCP clients over streamable HTTP.
package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sanctions-engine/pkg/middleware"
)

const instructions = "Sanctions screening tools. Call screen_company with a company name " +
	"(any language) and optional country to find listed companies in the stored subset. " +
	"Call sanctions_sync_status to check how fresh the list is, and " +
	"get_sanctioned_entity to read a full record by uid."

// ToolRegistrar adds a group of tools to the server.
type ToolRegistrar func(s *server.MCPServer)

// Server pairs the mcp-go server with its logger.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates the MCP server and runs each registrar against it.
// Tool handler panics are recovered and reported as tool errors.
func NewServer(name, version string, logger *zap.Logger, registrars ...ToolRegistrar) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
			server.WithInstructions(instructions),
			server.WithRecovery(),
		),
		logger: logger,
	}
	for _, register := range registrars {
		register(s.mcp)
	}
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Handler serves the stateless streamable HTTP transport behind MCP request
// logging. Mount it on the mux; no endpoint path is configured here.
func (s *Server) Handler() http.Handler {
	transport := server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
	return middleware.MCPRequestLogger(s.logger.Named("mcp"))(transport)
}
