package analysis

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SystemHandler handles health and session management MCP tools.
type SystemHandler struct {
	service *Service
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(service *Service) *SystemHandler {
	return &SystemHandler{service: service}
}

// HandleHealthCheck reports analyzer availability and cache/session sizes.
func (h *SystemHandler) HandleHealthCheck(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
	settings := h.service.Settings()

	analyzerFound := false
	if settings.HeadlessPath != "" {
		if _, err := h.service.fs.Stat(settings.HeadlessPath); err == nil {
			analyzerFound = true
		}
	}

	data := map[string]any{
		"platform":         runtime.GOOS + "/" + runtime.GOARCH,
		"analyzer_path":    settings.HeadlessPath,
		"analyzer_found":   analyzerFound,
		"scripts_dir":      settings.ScriptDir,
		"output_dir":       settings.BaseDir,
		"session_binaries": len(h.service.Sessions()),
		"cached_binaries":  len(h.service.CachedSummaries()),
	}

	if !analyzerFound {
		return errorResult("Analyzer not found. Configure analysis-headless-path.", CodeUpstream), nil, nil
	}
	return successResult(data), nil, nil
}

// HandleListSessions lists all binaries currently tracked in the session
// table, most recently used first.
func (h *SystemHandler) HandleListSessions(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
	entries := h.service.Sessions()

	type sessionInfo struct {
		Path      string `json:"path"`
		Name      string `json:"name"`
		Hash      string `json:"hash"`
		Functions int    `json:"functions"`
		Strings   int    `json:"strings"`
		Imports   int    `json:"imports"`
		Exports   int    `json:"exports"`
	}

	binaries := make([]sessionInfo, 0, len(entries))
	for _, e := range entries {
		binaries = append(binaries, sessionInfo{
			Path:      e.Handle,
			Name:      filepath.Base(e.Handle),
			Hash:      e.Fingerprint,
			Functions: e.Counts.Functions,
			Strings:   e.Counts.Strings,
			Imports:   e.Counts.Imports,
			Exports:   e.Counts.Exports,
		})
	}

	return successResult(map[string]any{
		"count":    len(binaries),
		"binaries": binaries,
	}), nil, nil
}

// HandleClearSession empties the session table. Cached records on disk
// are untouched.
func (h *SystemHandler) HandleClearSession(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
	count := h.service.EvictAll()
	return successResult(map[string]any{
		"cleared": count,
		"message": fmt.Sprintf("Cleared %d binaries from session", count),
	}), nil, nil
}

// RegisterSystemTools registers the system tools with an MCP server.
func RegisterSystemTools(server *mcp.Server, service *Service) {
	handler := NewSystemHandler(service)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "health_check",
		Description: "Check server status, analyzer installation, and cache statistics",
	}, handler.HandleHealthCheck)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_session_binaries",
		Description: "List all binaries currently loaded in the session",
	}, handler.HandleListSessions)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_session",
		Description: "Clear the current session (does not delete cached records)",
	}, handler.HandleClearSession)
}
