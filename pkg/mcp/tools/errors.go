package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrorResponse is the text payload of a failed tool call. Failures are tool
// results with IsError set, not protocol errors, so clients surface them.
type ErrorResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	Code          string `json:"error_code"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NewErrorResult reports a failure that happened before the engine ran.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return errorResult(ErrorResponse{Error: message, Code: code})
}

func errorResult(resp ErrorResponse) *mcp.CallToolResult {
	body, _ := json.MarshalIndent(resp, "", "  ")
	out := mcp.NewToolResultText(string(body))
	out.IsError = true
	return out
}
