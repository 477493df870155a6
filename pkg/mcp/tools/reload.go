package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/definitions"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/logging"
)

// Reloader re-reads the definition directory.
type Reloader interface {
	Reload() (definitions.ReloadStats, error)
}

type reloadResult struct {
	Success       bool `json:"success"`
	QueriesBefore int  `json:"queries_before"`
	QueriesLoaded int  `json:"queries_loaded"`
	ToolsRemoved  int  `json:"tools_removed"`
}

// RegisterReloadTool adds reload_queries, which re-reads definitions and
// re-syncs the generated query tools.
func RegisterReloadTool(s *server.MCPServer, reloader Reloader, queryTools *QueryTools, logger *zap.Logger) {
	tool := mcp.NewTool(
		"reload_queries",
		mcp.WithDescription("Reloads query definitions from disk and refreshes the query tools"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := reloader.Reload()
		if err != nil {
			logger.Error("Query reload failed", zap.Error(err))
			return NewErrorResult("reload_failed", "Failed to reload queries: "+logging.SanitizeError(err)), nil
		}

		synced := queryTools.Sync(s)

		result, err := json.Marshal(reloadResult{
			Success:       true,
			QueriesBefore: stats.Before,
			QueriesLoaded: stats.After,
			ToolsRemoved:  synced.Removed,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal reload result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
