package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/codemapper/codemap-mcp/internal/indexer"
	"github.com/codemapper/codemap-mcp/internal/searcher"
	"github.com/codemapper/codemap-mcp/internal/tracker"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Codebase not indexed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	force, _ := args["force"].(bool)

	result, err := s.indexer.Index(ctx, indexer.Request{CodebasePath: path, Force: force})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if result.AlreadyRunning {
		return nil, newMCPError(ErrorCodeIndexingInProgress, result.Message, map[string]interface{}{
			"namespace": result.Namespace,
		})
	}

	// A re-index changes what cached queries would return.
	s.searcher.Invalidate()

	response := map[string]interface{}{
		"success":         result.Success,
		"operation_id":    result.OperationID,
		"namespace":       result.Namespace,
		"mode":            result.Mode,
		"files_indexed":   result.FilesIndexed,
		"files_unchanged": result.FilesUnchanged,
		"files_deleted":   result.FilesDeleted,
		"chunks_created":  result.ChunksCreated,
		"chunks_deleted":  result.ChunksDeleted,
		"duration_ms":     result.Duration.Milliseconds(),
	}
	if len(result.Errors) > 0 {
		limit := len(result.Errors)
		if limit > 5 {
			limit = 5
		}
		response["errors"] = result.Errors[:limit]
		response["error_count"] = len(result.Errors)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param": "query",
		})
	}

	req := searcher.Request{
		Query:     query,
		Namespace: tracker.NamespaceFor(path),
		Limit:     getIntDefault(args, "limit", 10),
		MinScore:  getFloatDefault(args, "min_score", 0),
		Strategy:  searcher.Strategy(getStringDefault(args, "strategy", string(searcher.StrategyHybrid))),
		UseCache:  true,
	}
	req.FileFilter, _ = args["file_filter"].(string)
	req.ExpandDependencies, _ = args["expand_dependencies"].(bool)
	req.Rerank, _ = args["rerank"].(bool)
	if kinds, ok := args["symbol_kinds"].([]interface{}); ok {
		for _, k := range kinds {
			if kind, ok := k.(string); ok {
				req.SymbolKinds = append(req.SymbolKinds, kind)
			}
		}
	}

	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		s.log.Error("search failed", zap.String("query", query), zap.Error(err))
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	matches := make([]map[string]interface{}, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		entry := map[string]interface{}{
			"id":         m.Chunk.ID,
			"file":       m.Chunk.RelativePath,
			"start_line": m.Chunk.StartLine,
			"end_line":   m.Chunk.EndLine,
			"language":   m.Chunk.Language,
			"chunk_type": string(m.Chunk.ChunkType),
			"score":      m.Score,
			"match_type": string(m.MatchType),
			"content":    m.Chunk.Content,
		}
		if m.Reranked {
			entry["original_score"] = m.OriginalScore
		}
		if len(m.RelatedMatches) > 0 {
			entry["related"] = m.RelatedMatches
		}
		matches = append(matches, entry)
	}

	response := map[string]interface{}{
		"success":     resp.Success,
		"matches":     matches,
		"total":       len(matches),
		"strategy":    string(resp.Metadata.Strategy),
		"intent":      string(resp.Metadata.Intent),
		"cache_hit":   resp.Metadata.CacheHit,
		"duration_ms": resp.Metadata.Duration.Milliseconds(),
	}
	if !resp.Success {
		response["error"] = resp.Error
	}
	if len(resp.Suggestions) > 0 {
		response["suggestions"] = resp.Suggestions
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}

	status, err := s.indexer.Status(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "status lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":      status.Indexed,
		"namespace":    status.Namespace,
		"total_files":  status.TotalFiles,
		"total_chunks": status.TotalChunks,
		"in_progress":  status.InProgress,
	}
	if status.Indexed {
		response["last_indexed"] = status.LastIndexed
		response["mode"] = status.Mode
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// MCPError carries a JSON-RPC style code alongside the message
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{Code: code, Message: message, Data: data}
}

// requirePath extracts and validates the path argument
func requirePath(args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param": "path",
		})
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param": "path", "reason": err.Error(),
		})
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", newMCPError(ErrorCodeInvalidParams, "path is not an accessible directory", map[string]interface{}{
			"param": "path", "reason": abs,
		})
	}
	return abs, nil
}

func formatJSON(data map[string]interface{}) string {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(out)
}

func getIntDefault(args map[string]interface{}, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

func getFloatDefault(args map[string]interface{}, key string, def float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return def
}

func getStringDefault(args map[string]interface{}, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}
