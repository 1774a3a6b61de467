package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/farmer-power/collection-engine/pkg/models"
	"github.com/farmer-power/collection-engine/pkg/services"
)

type healthResult struct {
	Status         string                      `json:"status"`
	Version        string                      `json:"version"`
	Reconciliation *models.ReconciliationStats `json:"reconciliation,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status and version, plus outstanding repair
// work when a reconciler is given.
func RegisterHealthTool(s *server.MCPServer, version string, reconciler services.ReconciliationService) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: version}
		if reconciler != nil {
			stats, err := reconciler.Status(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to read reconciliation status: %w", err)
			}
			result.Reconciliation = stats
			if stats.PendingIndex > 0 {
				result.Status = "degraded"
			}
		}
		return jsonResult(result)
	})
}
