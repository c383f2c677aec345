// Package mcp exposes the device link as MCP tools for agents.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"github.com/mbocsi/devlink/services"
)

const serverVersion = "1.0.0"

type MCPServer struct {
	Server   *server.MCPServer
	services *services.ServiceContainer
}

// NewMCPServer creates the MCP server with every devlink tool registered
func NewMCPServer(svc *services.ServiceContainer) *MCPServer {
	s := &MCPServer{
		Server:   server.NewMCPServer("devlink", serverVersion, server.WithToolCapabilities(false)),
		services: svc,
	}
	s.registerTransportTools()
	s.registerDeviceTools()
	return s
}

// Run serves MCP over stdio until stdin closes
func (s *MCPServer) Run() error {
	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	return server.ServeStdio(s.Server)
}
