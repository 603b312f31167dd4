// Greenlight MCP Server - Exposes Greenlight decisions as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/greenlight-sh/greenlight/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:  envOrDefault("GREENLIGHT_API_URL", "http://localhost:8080"),
		APIKey:  os.Getenv("GREENLIGHT_API_KEY"),
		AgentID: os.Getenv("GREENLIGHT_AGENT_ID"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "GREENLIGHT_API_KEY is required")
		os.Exit(1)
	}
	if cfg.AgentID == "" {
		fmt.Fprintln(os.Stderr, "GREENLIGHT_AGENT_ID is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
