// payroute MCP server - exposes payment routing as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/payroute/internal/apiclient"
	"github.com/mbd888/payroute/internal/mcpserver"
)

// Version is set by ldflags
var Version = "dev"

func main() {
	cfg := apiclient.Config{
		APIURL:     envOrDefault("PAYROUTE_API_URL", "http://localhost:8080"),
		Token:      os.Getenv("PAYROUTE_TOKEN"),
		MerchantID: os.Getenv("PAYROUTE_MERCHANT_ID"),
	}

	s := mcpserver.NewMCPServer(cfg, Version)
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
