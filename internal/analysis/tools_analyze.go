package analysis

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/afero"
)

// defaultBinaryExtensions are scanned when analyze_folder is called
// without an explicit extension list.
var defaultBinaryExtensions = []string{".exe", ".dll", ".so", ".dylib", ".bin", ".elf"}

// AnalyzeArgument defines analyze_binary parameters.
type AnalyzeArgument struct {
	Path  string `json:"path" jsonschema_description:"Path to the binary to analyze"`
	Force bool   `json:"force,omitempty" jsonschema_description:"Re-analyze even if a cached record exists"`
}

// AnalyzeBatchArgument defines analyze_binaries parameters.
type AnalyzeBatchArgument struct {
	Paths []string `json:"paths" jsonschema_description:"Paths of the binaries to analyze"`
}

// AnalyzeFolderArgument defines analyze_folder parameters.
type AnalyzeFolderArgument struct {
	Path       string   `json:"path" jsonschema_description:"Directory to scan for binaries"`
	Extensions []string `json:"extensions,omitempty" jsonschema_description:"File extensions to include (defaults to common binary extensions)"`
}

// AnalyzeHandler handles the analysis MCP tools.
type AnalyzeHandler struct {
	service *Service
	fs      afero.Fs
}

// NewAnalyzeHandler creates a new analyze handler.
func NewAnalyzeHandler(service *Service) *AnalyzeHandler {
	return &AnalyzeHandler{
		service: service,
		fs:      service.fs,
	}
}

// Handle analyzes one binary, serving from the cache when possible.
func (h *AnalyzeHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args AnalyzeArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Path) == "" {
		return errorResult("Path cannot be empty", CodeInvalidArgument), nil, nil
	}

	result, err := h.service.Analyze(ctx, args.Path, args.Force)
	if err != nil {
		return failureResult(err), nil, nil
	}
	return successResult(result), nil, nil
}

// batchOutcome is the per-binary entry in batch analysis responses.
type batchOutcome struct {
	Path      string `json:"path"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status"`
	Functions int    `json:"functions,omitempty"`
	Error     string `json:"error,omitempty"`
}

// batchSummary aggregates batch analysis results.
type batchSummary struct {
	Folder   string         `json:"folder,omitempty"`
	Analyzed int            `json:"analyzed"`
	Cached   int            `json:"cached"`
	Errors   int            `json:"errors"`
	Binaries []batchOutcome `json:"binaries"`
}

// analyzeMany runs the analysis pipeline over a list of paths, collecting
// per-binary outcomes instead of failing the whole batch.
func (h *AnalyzeHandler) analyzeMany(ctx context.Context, paths []string) batchSummary {
	summary := batchSummary{Binaries: []batchOutcome{}}

	for _, path := range paths {
		result, err := h.service.Analyze(ctx, path, false)
		if err != nil {
			summary.Errors++
			summary.Binaries = append(summary.Binaries, batchOutcome{
				Path:   path,
				Status: "error",
				Error:  err.Error(),
			})
			continue
		}

		outcome := batchOutcome{
			Path:      path,
			Name:      result.BinaryName,
			Status:    result.Status,
			Functions: result.Counts.Functions,
		}
		if result.Status == "cached" {
			summary.Cached++
		} else {
			summary.Analyzed++
		}
		summary.Binaries = append(summary.Binaries, outcome)
	}

	return summary
}

// HandleBatch analyzes multiple binaries at once.
func (h *AnalyzeHandler) HandleBatch(ctx context.Context, req *mcp.CallToolRequest, args AnalyzeBatchArgument) (*mcp.CallToolResult, any, error) {
	if len(args.Paths) == 0 {
		return errorResult("Paths cannot be empty", CodeInvalidArgument), nil, nil
	}
	return successResult(h.analyzeMany(ctx, args.Paths)), nil, nil
}

// HandleFolder analyzes every matching binary under a directory.
func (h *AnalyzeHandler) HandleFolder(ctx context.Context, req *mcp.CallToolRequest, args AnalyzeFolderArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Path) == "" {
		return errorResult("Path cannot be empty", CodeInvalidArgument), nil, nil
	}

	info, err := h.fs.Stat(args.Path)
	if err != nil || !info.IsDir() {
		return errorResult("Not a directory: "+args.Path, CodeInvalidArgument), nil, nil
	}

	extensions := args.Extensions
	if len(extensions) == 0 {
		extensions = defaultBinaryExtensions
	}
	wanted := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		wanted[strings.ToLower(ext)] = true
	}

	var paths []string
	_ = afero.Walk(h.fs, args.Path, func(path string, info fs.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if wanted[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})

	summary := h.analyzeMany(ctx, paths)
	summary.Folder = args.Path
	return successResult(summary), nil, nil
}

// RegisterAnalyzeTools registers the analysis tools with an MCP server.
func RegisterAnalyzeTools(server *mcp.Server, service *Service) {
	handler := NewAnalyzeHandler(service)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_binary",
		Description: "Analyze a binary with the headless pipeline, serving cached results when available (set force=true to re-analyze)",
	}, handler.Handle)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_binaries",
		Description: "Analyze multiple binaries at once",
	}, handler.HandleBatch)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_folder",
		Description: "Analyze all binaries in a folder (default extensions: .exe, .dll, .so, .dylib, .bin, .elf)",
	}, handler.HandleFolder)
}
