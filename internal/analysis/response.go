package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// envelope is the uniform JSON shape of every tool response.
type envelope struct {
	Status    string `json:"status"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// successResult wraps a tool payload in the standard success envelope.
func successResult(data any) *mcp.CallToolResult {
	body, err := json.MarshalIndent(envelope{Status: "success", Data: data}, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode response: %s", err), CodeInternal)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(body)},
		},
	}
}

// errorResult builds the standard error envelope with a stable code.
func errorResult(message, code string) *mcp.CallToolResult {
	body, _ := json.MarshalIndent(envelope{Status: "error", Error: message, ErrorCode: code}, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(body)},
		},
		IsError: true,
	}
}

// failureResult classifies a core error into its stable code and wraps it.
func failureResult(err error) *mcp.CallToolResult {
	return errorResult(err.Error(), Classify(err))
}
