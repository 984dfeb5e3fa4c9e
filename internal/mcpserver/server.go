// Package mcpserver exposes the router to LLM agents as MCP tools.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/payroute/internal/apiclient"
)

// NewMCPServer creates a configured MCP server with all payroute tools registered.
func NewMCPServer(cfg apiclient.Config, version string) *server.MCPServer {
	s := server.NewMCPServer("payroute", version)
	h := NewHandlers(apiclient.New(cfg))

	s.AddTool(ToolRoutePayment, h.HandleRoutePayment)
	s.AddTool(ToolPreviewRoute, h.HandlePreviewRoute)
	s.AddTool(ToolListProcessors, h.HandleListProcessors)
	s.AddTool(ToolAssessProcessor, h.HandleAssessProcessor)
	s.AddTool(ToolPaymentReport, h.HandlePaymentReport)
	s.AddTool(ToolSessionSummary, h.HandleSessionSummary)
	s.AddTool(ToolFreezeProcessor, h.HandleFreezeProcessor)
	s.AddTool(ToolRestoreProcessor, h.HandleRestoreProcessor)

	return s
}
