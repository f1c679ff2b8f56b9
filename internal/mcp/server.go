// ABOUTME: MCP server implementation for feedsync
// ABOUTME: Exposes the sync engine to AI agents through tools, resources and prompts

package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/harper/feedsync/internal/discover"
	"github.com/harper/feedsync/internal/engine"
)

// Finder resolves a site URL to its feed. *discover.Discoverer implements it.
type Finder interface {
	Discover(ctx context.Context, inputURL string) (*discover.DiscoveredFeed, error)
}

// Server wraps the MCP server with the engine it drives.
type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	finder    Finder
	now       func() time.Time
}

// NewServer creates a new MCP server instance. finder may be nil, which
// disables feed discovery in subscribe.
func NewServer(eng *engine.Engine, finder Finder, version string) *Server {
	s := &Server{
		engine: eng,
		finder: finder,
		now:    time.Now,
	}

	s.mcpServer = server.NewMCPServer(
		"feedsync",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
