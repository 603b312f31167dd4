package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Greenlight tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("greenlight", "0.1.0")
	client := NewGreenlightClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolEvaluateOperation, h.HandleEvaluateOperation)
	s.AddTool(ToolRecordOutcome, h.HandleRecordOutcome)
	s.AddTool(ToolListDecisions, h.HandleListDecisions)
	s.AddTool(ToolGetReport, h.HandleGetReport)
	s.AddTool(ToolEmergencyStatus, h.HandleEmergencyStatus)

	return s
}
