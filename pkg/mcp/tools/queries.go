package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/auth"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/definitions"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

// DefinitionSource is the read side of the definition loader.
type DefinitionSource interface {
	GetByID(id string) (*models.QueryDefinition, bool)
	GetAll() []definitions.Entry
}

// QueryRunner executes a definition. *engine.Executor satisfies it.
type QueryRunner interface {
	Execute(ctx context.Context, def *models.QueryDefinition, params map[string]string, ec models.ExecutionContext) *models.QueryResult
}

// QueryToolDeps contains dependencies for the generated query tools.
type QueryToolDeps struct {
	Definitions DefinitionSource
	Runner      QueryRunner
	Converter   *Converter
	Logger      *zap.Logger
}

// QueryTools keeps the server's query tools in step with the loaded
// definitions.
type QueryTools struct {
	deps       *QueryToolDeps
	mu         sync.Mutex
	registered map[string]ToolSpec
}

// NewQueryTools creates an empty registry. Call Sync to publish tools.
func NewQueryTools(deps *QueryToolDeps) *QueryTools {
	return &QueryTools{
		deps:       deps,
		registered: make(map[string]ToolSpec),
	}
}

// SyncResult reports what Sync changed.
type SyncResult struct {
	Registered int `json:"registered"`
	Removed    int `json:"removed"`
}

// Sync registers one tool per active definition and removes tools whose
// definition is gone. Name collisions keep the first definition by query ID.
func (q *QueryTools) Sync(s *server.MCPServer) SyncResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	specs, errs := q.deps.Converter.ConvertAll(q.deps.Definitions.GetAll())
	for _, err := range errs {
		q.deps.Logger.Error("Failed to convert query definition to tool", zap.Error(err))
	}

	next := make(map[string]ToolSpec, len(specs))
	serverTools := make([]server.ServerTool, 0, len(specs))
	for _, spec := range specs {
		if existing, dup := next[spec.Name]; dup {
			q.deps.Logger.Warn("Duplicate tool name, keeping first definition",
				zap.String("tool", spec.Name),
				zap.String("kept", existing.Metadata.QueryID),
				zap.String("skipped", spec.Metadata.QueryID))
			continue
		}
		next[spec.Name] = spec
		serverTools = append(serverTools, server.ServerTool{
			Tool:    spec.Tool(),
			Handler: q.handler(spec),
		})
	}

	var stale []string
	for name := range q.registered {
		if _, ok := next[name]; !ok {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		s.DeleteTools(stale...)
	}
	if len(serverTools) > 0 {
		s.AddTools(serverTools...)
	}
	q.registered = next

	q.deps.Logger.Info("Query tools synced",
		zap.Int("registered", len(next)),
		zap.Int("removed", len(stale)))

	return SyncResult{Registered: len(next), Removed: len(stale)}
}

// Specs returns the registered tool specs sorted by name.
func (q *QueryTools) Specs() []ToolSpec {
	q.mu.Lock()
	defer q.mu.Unlock()

	specs := make([]ToolSpec, 0, len(q.registered))
	for _, spec := range q.registered {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Lookup returns the spec registered under a published tool name.
func (q *QueryTools) Lookup(name string) (ToolSpec, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	spec, ok := q.registered[name]
	return spec, ok
}

func (q *QueryTools) handler(spec ToolSpec) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		def, ok := q.deps.Definitions.GetByID(spec.Metadata.QueryID)
		if !ok {
			return NewErrorResult("query_not_found", "Query not found: "+spec.Metadata.QueryID), nil
		}

		ec := models.NewExecutionContext(models.InterfaceMCP, auth.UserIDFromContext(ctx))
		if ec.UserID == "" {
			ec.UserID = "mcp_client"
		}

		result := q.deps.Runner.Execute(ctx, def, StringifyArguments(req.GetArguments()), ec)
		return NewQueryResult(result)
	}
}

// querySuccess is the text payload of a successful query tool call.
type querySuccess struct {
	Success       bool                  `json:"success"`
	Data          []models.OrderedRow   `json:"data"`
	Metadata      models.ResultMetadata `json:"metadata"`
	CorrelationID string                `json:"correlation_id"`
}

// NewQueryResult renders an engine result as tool output. Failures are
// error results so clients surface them.
func NewQueryResult(result *models.QueryResult) (*mcp.CallToolResult, error) {
	if !result.Success {
		return errorResult(ErrorResponse{
			Error:         result.Error,
			Code:          result.ErrorCode,
			CorrelationID: result.CorrelationID,
		}), nil
	}

	body, err := json.MarshalIndent(querySuccess{
		Success:       true,
		Data:          models.OrderRows(result.Data, result.Columns),
		Metadata:      result.Metadata,
		CorrelationID: result.CorrelationID,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query result: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

// StringifyArguments converts JSON argument values to the strings the
// engine binds. Integral numbers lose their fractional form; nulls are
// dropped so they count as missing.
func StringifyArguments(args map[string]any) map[string]string {
	params := make(map[string]string, len(args))
	for name, value := range args {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			params[name] = v
		case float64:
			if v == float64(int64(v)) {
				params[name] = strconv.FormatInt(int64(v), 10)
			} else {
				params[name] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		case bool:
			params[name] = strconv.FormatBool(v)
		case json.Number:
			params[name] = v.String()
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				params[name] = fmt.Sprint(v)
				continue
			}
			params[name] = string(raw)
		}
	}
	return params
}
