// Package types provides the shared data model for codemap-mcp.
//
// The central type is Chunk: a contiguous span of one source file treated as
// a unit of retrieval, carrying its location, extracted symbols and imports,
// and a derived complexity rating. Chunk IDs are stable, derived from the
// relative path and line range, and bounded to MaxIDBytes so they can serve
// directly as vector-store row keys.
//
// SearchMatch wraps a Chunk with ranking metadata produced by the hybrid
// search coordinator. Sentinel errors for expected failure modes (empty
// query, un-indexed namespace, oversized parser input) live here so every
// layer can branch on them with errors.Is.
package types
