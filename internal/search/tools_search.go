package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query       string `json:"query" jsonschema_description:"Search query over decompiled code (supports phrases)"`
	Fingerprint string `json:"fingerprint,omitempty" jsonschema_description:"Restrict the search to one analyzed binary by its hash"`
}

// SearchHandler handles the decompiled-code search MCP tool.
type SearchHandler struct {
	service *Service
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(service *Service) *SearchHandler {
	return &SearchHandler{service: service}
}

// Handle executes the search and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if !h.service.Ready() {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "Search is not available. No analyzed binaries have been indexed yet."},
			},
			IsError: true,
		}, nil, nil
	}

	if strings.TrimSpace(args.Query) == "" {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "Query cannot be empty"},
			},
			IsError: true,
		}, nil, nil
	}

	alias, err := h.service.Alias()
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Failed to access indexes: %s", err)},
			},
			IsError: true,
		}, nil, nil
	}

	searchReq := bleve.NewSearchRequest(h.buildQuery(args))
	searchReq.Size = h.service.MaxResults()
	searchReq.Fields = []string{FieldFingerprint, FieldBinary, FieldName, FieldAddress}
	searchReq.Highlight = bleve.NewHighlight()
	searchReq.Highlight.AddField(FieldCode)

	results, err := alias.Search(searchReq)
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Search failed: %s", err)},
			},
			IsError: true,
		}, nil, nil
	}

	return h.formatResults(results, args.Query), nil, nil
}

// buildQuery constructs a Bleve query from search arguments.
func (h *SearchHandler) buildQuery(args SearchArgument) query.Query {
	// Code body query
	codeQuery := bleve.NewMatchQuery(args.Query)
	codeQuery.SetField(FieldCode)

	// Function name query with boost
	nameQuery := bleve.NewMatchQuery(args.Query)
	nameQuery.SetField(FieldName)
	nameQuery.SetBoost(5.0)

	searchQuery := bleve.NewDisjunctionQuery(codeQuery, nameQuery)

	if args.Fingerprint == "" {
		return searchQuery
	}

	fpQuery := bleve.NewTermQuery(args.Fingerprint)
	fpQuery.SetField(FieldFingerprint)
	return bleve.NewConjunctionQuery(searchQuery, fpQuery)
}

// formatResults formats Bleve search results for MCP response.
func (h *SearchHandler) formatResults(results *bleve.SearchResult, queryStr string) *mcp.CallToolResult {
	if results.Total == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("No results found for query: %s", queryStr)},
			},
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d results for '%s':\n\n", results.Total, queryStr))

	for i, hit := range results.Hits {
		binary := ""
		name := ""
		address := ""
		if val, ok := hit.Fields[FieldBinary].(string); ok {
			binary = val
		}
		if val, ok := hit.Fields[FieldName].(string); ok {
			name = val
		}
		if val, ok := hit.Fields[FieldAddress].(string); ok {
			address = val
		}

		sb.WriteString(fmt.Sprintf("### %d. %s: %s @ %s\n", i+1, binary, name, address))
		sb.WriteString(fmt.Sprintf("**Score**: %.4f\n\n", hit.Score))

		if len(hit.Fragments) > 0 {
			if fragments, ok := hit.Fragments[FieldCode]; ok {
				sb.WriteString("```c\n")
				for _, fragment := range fragments {
					sb.WriteString(fragment)
					sb.WriteString("\n")
				}
				sb.WriteString("```\n")
			}
		}

		sb.WriteString("\n")
	}

	if results.Total > uint64(len(results.Hits)) {
		sb.WriteString(fmt.Sprintf("... and %d more results\n", results.Total-uint64(len(results.Hits))))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: sb.String()},
		},
	}
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_decompiled",
		Description: "Full-text search across decompiled function code of analyzed binaries",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, service *Service) {
	handler := NewSearchHandler(service)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
