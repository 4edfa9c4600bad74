package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/binsight/binsight-mcp/internal/analysis"
	"github.com/binsight/binsight-mcp/internal/search"
)

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name        string
	Version     string
	AnalysisSvc *analysis.Service
	SearchSvc   *search.Service
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.AnalysisSvc != nil {
		analysis.RegisterAnalyzeTools(s, cfg.AnalysisSvc)
		analysis.RegisterQueryTools(s, cfg.AnalysisSvc)
		analysis.RegisterGraphTools(s, cfg.AnalysisSvc)
		analysis.RegisterSystemTools(s, cfg.AnalysisSvc)
		analysis.RegisterInspectTools(s, cfg.AnalysisSvc)
	}

	if cfg.SearchSvc != nil {
		search.RegisterSearchTool(s, cfg.SearchSvc)
	}

	return s
}
