package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

// StatusReporter supplies the health snapshot.
type StatusReporter interface {
	Status(ctx context.Context) models.HealthStatus
}

// RegisterHealthTool adds a health check tool to the MCP server.
func RegisterHealthTool(s *server.MCPServer, status StatusReporter) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health, version, loaded query count, cache entries and open connections"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := json.Marshal(status.Status(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
