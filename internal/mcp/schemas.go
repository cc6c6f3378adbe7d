package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Index a codebase to make it searchable. Incremental: only changed files are re-processed.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the codebase root",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-index every file ignoring change detection (full rebuild)",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search an indexed codebase with natural language or identifier queries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to an indexed codebase",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or code identifiers)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"strategy": map[string]interface{}{
					"type":        "string",
					"description": "Retrieval strategy: hybrid (vector + lexical fusion), semantic (vector only), or structural (symbol-name driven)",
					"enum":        []string{"hybrid", "semantic", "structural"},
					"default":     "hybrid",
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Minimum relevance score threshold (0.0-1.0)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"file_filter": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one relative file path",
				},
				"symbol_kinds": map[string]interface{}{
					"type":        "array",
					"description": "Restrict structural matches by symbol kind",
					"items": map[string]interface{}{
						"type": "string",
						"enum": []string{"class", "function", "method", "interface", "type", "variable", "constant", "enum", "module"},
					},
				},
				"expand_dependencies": map[string]interface{}{
					"type":        "boolean",
					"description": "Append chunks from files connected through the import graph",
					"default":     false,
				},
				"rerank": map[string]interface{}{
					"type":        "boolean",
					"description": "Re-score results with the external reranker when configured",
					"default":     false,
				},
			},
			Required: []string{"path", "query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report indexing status and statistics for a codebase",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the codebase root",
				},
			},
			Required: []string{"path"},
		},
	}
}
