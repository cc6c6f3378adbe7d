// Package vectorstore defines the narrow interface the core uses to talk to
// the externally hosted vector store, and decodes its loosely-typed rows into
// explicit structs once, at the collaborator boundary.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNamespaceNotFound is returned when a query targets a namespace the
// store has never seen
var ErrNamespaceNotFound = errors.New("namespace not found")

// Row is one stored chunk record. ID, Content, and the location fields are
// required; Vector is required on upsert and absent on query results.
type Row struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Content string    `json:"content"`

	FilePath     string `json:"file_path"`
	RelativePath string `json:"relative_path"`
	StartLine    int    `json:"start_line"`
	EndLine      int    `json:"end_line"`

	// Optional metadata
	Language  string   `json:"language,omitempty"`
	ChunkType string   `json:"chunk_type,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
}

// ScoredRow is a row with a retrieval score attached
type ScoredRow struct {
	Row
	Score float64 `json:"score"`
}

// Query asks for rows by vector similarity, by text, or both. Exactly one of
// Vector or Text must be set for Query; HybridQuery carries both.
type Query struct {
	Vector []float32
	Text   string
	Limit  int
	// Filters restricts results by exact attribute match (e.g. language,
	// chunk_type, relative_path).
	Filters map[string]string
}

// HybridQuery runs vector and lexical retrieval server-side in one call
type HybridQuery struct {
	Vector []float32
	Text   string
	Limit  int
}

// HybridResult carries the two ranked lists back for client-side fusion
type HybridResult struct {
	VectorRows  []ScoredRow
	LexicalRows []ScoredRow
}

// Store is the capability surface of the external vector store
type Store interface {
	Upsert(ctx context.Context, namespace string, rows []Row) error
	Query(ctx context.Context, namespace string, q Query) ([]ScoredRow, error)
	HybridQuery(ctx context.Context, namespace string, q HybridQuery) (*HybridResult, error)
	NamespaceExists(ctx context.Context, namespace string) (bool, error)
	DeleteNamespace(ctx context.Context, namespace string) error
	DeleteByIDs(ctx context.Context, namespace string, ids []string) error
}

// decodeRow converts one loosely-typed response row into a Row, validating
// required fields. Optional fields default silently; missing required fields
// are an error so malformed service responses surface at the boundary
// instead of as zero values deep in ranking code.
func decodeRow(raw map[string]any) (Row, error) {
	var row Row

	id, ok := raw["id"].(string)
	if !ok || id == "" {
		return row, errors.New("row missing id")
	}
	row.ID = id

	row.Content, _ = raw["content"].(string)
	if row.Content == "" {
		return row, fmt.Errorf("row %s missing content", id)
	}

	row.FilePath, _ = raw["file_path"].(string)
	row.RelativePath, _ = raw["relative_path"].(string)
	if row.RelativePath == "" {
		row.RelativePath = row.FilePath
	}

	row.StartLine = intField(raw, "start_line")
	row.EndLine = intField(raw, "end_line")
	if row.StartLine <= 0 || row.EndLine < row.StartLine {
		return row, fmt.Errorf("row %s has invalid line range %d-%d", id, row.StartLine, row.EndLine)
	}

	row.Language, _ = raw["language"].(string)
	row.ChunkType, _ = raw["chunk_type"].(string)
	if syms, ok := raw["symbols"].([]any); ok {
		for _, s := range syms {
			if name, ok := s.(string); ok {
				row.Symbols = append(row.Symbols, name)
			}
		}
	}

	return row, nil
}

// intField reads a numeric attribute that JSON decoding may have produced as
// float64 or int
func intField(raw map[string]any, key string) int {
	switch v := raw[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
