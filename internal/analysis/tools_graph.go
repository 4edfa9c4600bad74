package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/binsight/binsight-mcp/internal/domain"
)

// GraphHandler handles the call-graph MCP tools.
type GraphHandler struct {
	service *Service
}

// NewGraphHandler creates a new graph handler.
func NewGraphHandler(service *Service) *GraphHandler {
	return &GraphHandler{service: service}
}

// findFunction resolves one function by name, distinguishing a missing
// session from a missing function.
func (h *GraphHandler) findFunction(path, name string) (domain.Function, *mcp.CallToolResult) {
	if strings.TrimSpace(name) == "" {
		return domain.Function{}, errorResult("Function name cannot be empty", CodeInvalidArgument)
	}

	elem, err := h.service.Find(path, domain.CollectionFunctions, name)
	if err != nil {
		if Classify(err) == CodeNotFound {
			if _, resolveErr := h.service.Resolve(path); resolveErr != nil {
				return domain.Function{}, noAnalysisResult(path)
			}
			return domain.Function{}, errorResult(fmt.Sprintf("Function %q not found.", name), CodeNotFound)
		}
		return domain.Function{}, failureResult(err)
	}
	return elem.(domain.Function), nil
}

// HandleCallers returns the direct callers (parents) of a function.
func (h *GraphHandler) HandleCallers(ctx context.Context, req *mcp.CallToolRequest, args FunctionArgument) (*mcp.CallToolResult, any, error) {
	f, errResult := h.findFunction(args.Path, args.Name)
	if errResult != nil {
		return errResult, nil, nil
	}

	return successResult(map[string]any{
		"binary":       args.Path,
		"function":     f.Name,
		"caller_count": len(f.Callers),
		"callers":      f.Callers,
	}), nil, nil
}

// HandleCallees returns the direct callees (children) of a function.
func (h *GraphHandler) HandleCallees(ctx context.Context, req *mcp.CallToolRequest, args FunctionArgument) (*mcp.CallToolResult, any, error) {
	f, errResult := h.findFunction(args.Path, args.Name)
	if errResult != nil {
		return errResult, nil, nil
	}

	return successResult(map[string]any{
		"binary":       args.Path,
		"function":     f.Name,
		"callee_count": len(f.Callees),
		"callees":      f.Callees,
	}), nil, nil
}

// RegisterGraphTools registers the call-graph tools with an MCP server.
func RegisterGraphTools(server *mcp.Server, service *Service) {
	handler := NewGraphHandler(service)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_function_callers",
		Description: "List the functions that call the specified function (direct parents)",
	}, handler.HandleCallers)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_function_callees",
		Description: "List the functions called by the specified function (direct children)",
	}, handler.HandleCallees)
}
