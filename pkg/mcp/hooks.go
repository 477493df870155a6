package mcp

import (
	"context"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/auth"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/logging"
)

// Tool call outcomes reported to ToolMetrics.
const (
	ToolOutcomeOK          = "ok"
	ToolOutcomeToolError   = "tool_error"
	ToolOutcomeProtocolErr = "protocol_error"
)

// ToolMetrics receives one observation per tool call.
type ToolMetrics interface {
	ObserveToolCall(tool, outcome string, d time.Duration)
}

// CallObserver logs and measures tool calls through mcp-go hooks. Execution
// records for query tools are written by the engine; this covers every tool
// including health and reload_queries.
type CallObserver struct {
	logger  *zap.Logger
	metrics ToolMetrics

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewCallObserver creates a CallObserver. metrics may be nil.
func NewCallObserver(metrics ToolMetrics, logger *zap.Logger) *CallObserver {
	return &CallObserver{
		logger:  logger.Named("mcp-calls"),
		metrics: metrics,
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (o *CallObserver) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(o.beforeCallTool)
	hooks.AddAfterCallTool(o.afterCallTool)
	hooks.AddOnError(o.onError)
	return hooks
}

func (o *CallObserver) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	o.startTimes.Store(id, time.Now())
}

func (o *CallObserver) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	duration := o.elapsed(id)

	outcome := ToolOutcomeOK
	if result != nil && result.IsError {
		outcome = ToolOutcomeToolError
	}
	o.observe(ctx, req.Params.Name, outcome, duration, nil)
}

func (o *CallObserver) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}
	o.observe(ctx, req.Params.Name, ToolOutcomeProtocolErr, o.elapsed(id), err)
}

func (o *CallObserver) observe(ctx context.Context, tool, outcome string, d time.Duration, err error) {
	if o.metrics != nil {
		o.metrics.ObserveToolCall(tool, outcome, d)
	}

	user := auth.UserIDFromContext(ctx)
	if user == "" {
		user = "anonymous"
	}
	fields := []zap.Field{
		zap.String("tool", tool),
		zap.String("outcome", outcome),
		zap.String("user_id", user),
		zap.Duration("duration", d),
	}
	if err != nil {
		fields = append(fields, zap.String("error", logging.SanitizeError(err)))
		o.logger.Warn("MCP tool call failed", fields...)
		return
	}
	o.logger.Debug("MCP tool call", fields...)
}

func (o *CallObserver) elapsed(id any) time.Duration {
	if v, ok := o.startTimes.LoadAndDelete(id); ok {
		return time.Since(v.(time.Time))
	}
	return 0
}
