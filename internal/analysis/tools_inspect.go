package analysis

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ReadBytesArgument defines read_bytes parameters.
type ReadBytesArgument struct {
	Path   string `json:"path" jsonschema_description:"Path to the binary"`
	Offset int64  `json:"offset" jsonschema_description:"Byte offset to read from"`
	Length int    `json:"length" jsonschema_description:"Number of bytes to read (max 1024)"`
}

// SearchStringsArgument defines search_strings parameters.
type SearchStringsArgument struct {
	Path      string `json:"path" jsonschema_description:"Path to the binary"`
	Pattern   string `json:"pattern" jsonschema_description:"Regex pattern to search for"`
	MinLength int    `json:"min_length,omitempty" jsonschema_description:"Minimum match length to include"`
}

// InspectHandler handles the direct-file inspection MCP tools. These
// operate on the original binary without touching the analysis cache.
type InspectHandler struct {
	service *Service
}

// NewInspectHandler creates a new inspect handler.
func NewInspectHandler(service *Service) *InspectHandler {
	return &InspectHandler{service: service}
}

// HandleReadBytes returns a raw hex dump of part of the binary.
func (h *InspectHandler) HandleReadBytes(ctx context.Context, req *mcp.CallToolRequest, args ReadBytesArgument) (*mcp.CallToolResult, any, error) {
	dump, err := h.service.ReadBytes(args.Path, args.Offset, args.Length)
	if err != nil {
		return failureResult(err), nil, nil
	}
	return successResult(dump), nil, nil
}

// HandleListSections lists the binary's sections (PE or ELF).
func (h *InspectHandler) HandleListSections(ctx context.Context, req *mcp.CallToolRequest, args BinaryArgument) (*mcp.CallToolResult, any, error) {
	sections, err := h.service.ListSections(args.Path)
	if err != nil {
		return failureResult(err), nil, nil
	}
	return successResult(map[string]any{
		"binary":   args.Path,
		"count":    len(sections),
		"sections": sections,
	}), nil, nil
}

// HandleSearchStrings scans the raw binary bytes for a regex pattern.
func (h *InspectHandler) HandleSearchStrings(ctx context.Context, req *mcp.CallToolRequest, args SearchStringsArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Pattern) == "" {
		return errorResult("Pattern cannot be empty", CodeInvalidArgument), nil, nil
	}

	minLength := args.MinLength
	if minLength == 0 {
		minLength = 4
	}

	matches, err := h.service.SearchStrings(args.Path, args.Pattern, minLength)
	if err != nil {
		return failureResult(err), nil, nil
	}
	return successResult(map[string]any{
		"binary":  args.Path,
		"pattern": args.Pattern,
		"count":   len(matches),
		"matches": matches,
	}), nil, nil
}

// RegisterInspectTools registers the inspection tools with an MCP server.
func RegisterInspectTools(server *mcp.Server, service *Service) {
	handler := NewInspectHandler(service)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_bytes",
		Description: "Read raw bytes from a binary at an offset, returned as hex and ASCII",
	}, handler.HandleReadBytes)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sections",
		Description: "List binary sections (PE or ELF)",
	}, handler.HandleListSections)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_strings",
		Description: "Search the raw binary bytes for strings matching a regex pattern",
	}, handler.HandleSearchStrings)
}
