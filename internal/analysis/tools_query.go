package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/binsight/binsight-mcp/internal/domain"
)

// ListArgument defines parameters for paginated collection listings.
type ListArgument struct {
	Path   string `json:"path" jsonschema_description:"Path of an analyzed binary"`
	Offset int    `json:"offset,omitempty" jsonschema_description:"Zero-based element offset"`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Maximum number of elements to return"`
}

// FunctionArgument defines parameters for single-function lookups.
type FunctionArgument struct {
	Path string `json:"path" jsonschema_description:"Path of an analyzed binary"`
	Name string `json:"name" jsonschema_description:"Function name"`
}

// StringsArgument defines read_strings parameters.
type StringsArgument struct {
	Path      string `json:"path" jsonschema_description:"Path of an analyzed binary"`
	MinLength int    `json:"min_length,omitempty" jsonschema_description:"Minimum string length to include"`
	Offset    int    `json:"offset,omitempty" jsonschema_description:"Zero-based element offset"`
	Limit     int    `json:"limit,omitempty" jsonschema_description:"Maximum number of strings to return"`
}

// BinaryArgument defines parameters for whole-collection listings.
type BinaryArgument struct {
	Path string `json:"path" jsonschema_description:"Path of an analyzed binary"`
}

// QueryHandler handles the record query MCP tools.
type QueryHandler struct {
	service *Service
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(service *Service) *QueryHandler {
	return &QueryHandler{service: service}
}

// noAnalysisResult is returned when a handle has no session entry.
func noAnalysisResult(path string) *mcp.CallToolResult {
	return errorResult(fmt.Sprintf("No analysis found for %s. Run 'analyze_binary' first.", path), CodeNotFound)
}

// defaultedLimit applies the configured max result cap to a caller limit.
func (h *QueryHandler) defaultedLimit(limit int) int {
	maxResults := h.service.Settings().MaxResults
	if limit <= 0 || limit > maxResults {
		return maxResults
	}
	return limit
}

// HandleListFunctions lists functions with pagination.
func (h *QueryHandler) HandleListFunctions(ctx context.Context, req *mcp.CallToolRequest, args ListArgument) (*mcp.CallToolResult, any, error) {
	if args.Offset < 0 || args.Limit < 0 {
		return errorResult("Offset and limit must be non-negative", CodeInvalidArgument), nil, nil
	}

	limit := h.defaultedLimit(args.Limit)
	page, total, err := h.service.List(args.Path, domain.CollectionFunctions, args.Offset, limit)
	if err != nil {
		if Classify(err) == CodeNotFound {
			return noAnalysisResult(args.Path), nil, nil
		}
		return failureResult(err), nil, nil
	}

	type funcEntry struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	functions := make([]funcEntry, 0, len(page))
	for _, e := range page {
		f := e.(domain.Function)
		functions = append(functions, funcEntry{Name: f.Name, Address: f.Entry})
	}

	return successResult(map[string]any{
		"binary":         args.Path,
		"total_count":    total,
		"returned_count": len(functions),
		"offset":         args.Offset,
		"limit":          limit,
		"functions":      functions,
	}), nil, nil
}

// HandleReadFunction returns the decompiled C for one function.
func (h *QueryHandler) HandleReadFunction(ctx context.Context, req *mcp.CallToolRequest, args FunctionArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Name) == "" {
		return errorResult("Function name cannot be empty", CodeInvalidArgument), nil, nil
	}

	elem, err := h.service.Find(args.Path, domain.CollectionFunctions, args.Name)
	if err != nil {
		if Classify(err) == CodeNotFound {
			if _, resolveErr := h.service.Resolve(args.Path); resolveErr != nil {
				return noAnalysisResult(args.Path), nil, nil
			}
			return errorResult(fmt.Sprintf("Function %q not found.", args.Name), CodeNotFound), nil, nil
		}
		return failureResult(err), nil, nil
	}

	f := elem.(domain.Function)
	return successResult(map[string]any{
		"binary":          args.Path,
		"function_name":   f.Name,
		"address":         f.Entry,
		"decompiled_code": f.Code,
	}), nil, nil
}

// HandleReadStrings lists recovered strings, filtered by minimum length.
// Pagination applies to the filtered sequence.
func (h *QueryHandler) HandleReadStrings(ctx context.Context, req *mcp.CallToolRequest, args StringsArgument) (*mcp.CallToolResult, any, error) {
	if args.Offset < 0 || args.Limit < 0 || args.MinLength < 0 {
		return errorResult("Offset, limit, and min_length must be non-negative", CodeInvalidArgument), nil, nil
	}

	acc, err := h.service.Resolve(args.Path)
	if err != nil {
		return noAnalysisResult(args.Path), nil, nil
	}

	total, err := acc.Count(domain.CollectionStrings)
	if err != nil {
		return failureResult(err), nil, nil
	}

	seq, err := acc.Entries(domain.CollectionStrings)
	if err != nil {
		return failureResult(err), nil, nil
	}

	limit := h.defaultedLimit(args.Limit)
	page := make([]domain.StringEntry, 0, limit)
	skipped := 0
	var iterErr error
	for e, err := range seq {
		if err != nil {
			iterErr = err
			break
		}
		s := e.(domain.StringEntry)
		if len(s.Value) < args.MinLength {
			continue
		}
		if skipped < args.Offset {
			skipped++
			continue
		}
		if len(page) >= limit {
			break
		}
		page = append(page, s)
	}
	if iterErr != nil {
		return failureResult(iterErr), nil, nil
	}

	return successResult(map[string]any{
		"binary":         args.Path,
		"total_count":    total,
		"returned_count": len(page),
		"min_length":     args.MinLength,
		"offset":         args.Offset,
		"limit":          limit,
		"strings":        page,
	}), nil, nil
}

// HandleListImports lists imported symbols grouped by library.
func (h *QueryHandler) HandleListImports(ctx context.Context, req *mcp.CallToolRequest, args BinaryArgument) (*mcp.CallToolResult, any, error) {
	acc, err := h.service.Resolve(args.Path)
	if err != nil {
		return noAnalysisResult(args.Path), nil, nil
	}

	seq, err := acc.Entries(domain.CollectionImports)
	if err != nil {
		return failureResult(err), nil, nil
	}

	grouped := make(map[string][]string)
	var libraries []string
	total := 0
	var iterErr error
	for e, err := range seq {
		if err != nil {
			iterErr = err
			break
		}
		imp := e.(domain.Import)
		lib := imp.Library
		if lib == "" {
			lib = "Unknown"
		}
		if _, seen := grouped[lib]; !seen {
			libraries = append(libraries, lib)
		}
		grouped[lib] = append(grouped[lib], imp.Name)
		total++
	}
	if iterErr != nil {
		return failureResult(iterErr), nil, nil
	}

	return successResult(map[string]any{
		"binary":             args.Path,
		"total_imports":      total,
		"libraries":          libraries,
		"imports_by_library": grouped,
	}), nil, nil
}

// HandleListExports lists exported symbols.
func (h *QueryHandler) HandleListExports(ctx context.Context, req *mcp.CallToolRequest, args BinaryArgument) (*mcp.CallToolResult, any, error) {
	acc, err := h.service.Resolve(args.Path)
	if err != nil {
		return noAnalysisResult(args.Path), nil, nil
	}

	total, err := acc.Count(domain.CollectionExports)
	if err != nil {
		return failureResult(err), nil, nil
	}
	page, err := acc.Slice(domain.CollectionExports, 0, h.service.Settings().MaxResults)
	if err != nil {
		return failureResult(err), nil, nil
	}

	exports := make([]domain.Export, 0, len(page))
	for _, e := range page {
		exports = append(exports, e.(domain.Export))
	}

	return successResult(map[string]any{
		"binary":        args.Path,
		"total_exports": total,
		"exports":       exports,
	}), nil, nil
}

// RegisterQueryTools registers the record query tools with an MCP server.
func RegisterQueryTools(server *mcp.Server, service *Service) {
	handler := NewQueryHandler(service)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_functions",
		Description: "List functions found in an analyzed binary, with offset/limit pagination",
	}, handler.HandleListFunctions)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_function_code",
		Description: "Return the decompiled C code for a specific function",
	}, handler.HandleReadFunction)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_strings",
		Description: "List strings recovered from an analyzed binary, filtered by minimum length",
	}, handler.HandleReadStrings)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_imports",
		Description: "List imported libraries and symbols of an analyzed binary",
	}, handler.HandleListImports)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_exports",
		Description: "List exported symbols of an analyzed binary",
	}, handler.HandleListExports)
}
