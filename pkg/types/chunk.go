package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ChunkType classifies the syntactic construct a chunk was extracted from
type ChunkType string

const (
	ChunkClass     ChunkType = "class"
	ChunkFunction  ChunkType = "function"
	ChunkInterface ChunkType = "interface"
	ChunkTypeAlias ChunkType = "type"
	ChunkModule    ChunkType = "module"
	ChunkMixed     ChunkType = "mixed"
	ChunkGap       ChunkType = "gap"
)

// Complexity is a coarse difficulty rating derived from chunk shape
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// MaxIDBytes is the byte budget for a chunk identifier. IDs are used as
// vector-store row keys, so they must stay short and deterministic.
const MaxIDBytes = 64

// Chunk represents a contiguous span of one source file treated as a unit of retrieval
type Chunk struct {
	// Identification
	ID string

	// Content
	Content string
	Size    int // Character count, always len(Content)

	// Location
	FilePath     string
	RelativePath string
	StartLine    int // 1-based, inclusive
	EndLine      int // 1-based, inclusive

	// Metadata
	Language   string
	ChunkType  ChunkType
	Symbols    []Symbol
	Imports    []Import
	Complexity Complexity
}

// ChunkID builds a stable identifier from a relative path and line range.
// When the natural form exceeds MaxIDBytes the path segment is truncated and
// disambiguated with a hash of the full path, keeping the result unique and
// within budget.
func ChunkID(relPath string, startLine, endLine int) string {
	id := fmt.Sprintf("%s:%d-%d", relPath, startLine, endLine)
	if len(id) <= MaxIDBytes {
		return id
	}

	sum := sha256.Sum256([]byte(relPath))
	suffix := fmt.Sprintf("~%s:%d-%d", hex.EncodeToString(sum[:6]), startLine, endLine)
	keep := MaxIDBytes - len(suffix)
	if keep < 0 {
		keep = 0
	}
	return relPath[:keep] + suffix
}

// ComputeSize sets Size from the current content
func (c *Chunk) ComputeSize() int {
	c.Size = len(c.Content)
	return c.Size
}

// ComputeComplexity derives the complexity rating from line count and
// maximum brace nesting depth
func (c *Chunk) ComputeComplexity() Complexity {
	lines := c.EndLine - c.StartLine + 1

	depth := 0
	maxDepth := 0
	for _, r := range c.Content {
		switch r {
		case '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case '}':
			if depth > 0 {
				depth--
			}
		}
	}

	switch {
	case lines > 80 || maxDepth >= 5:
		c.Complexity = ComplexityHigh
	case lines > 30 || maxDepth >= 3:
		c.Complexity = ComplexityMedium
	default:
		c.Complexity = ComplexityLow
	}
	return c.Complexity
}

// Validate checks chunk invariants
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk ID is required")
	}
	if len(c.ID) > MaxIDBytes {
		return fmt.Errorf("chunk ID exceeds %d bytes", MaxIDBytes)
	}
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}
	if c.Size != len(c.Content) {
		return errors.New("size must equal content length")
	}
	if c.ChunkType == "" {
		return errors.New("chunk type must not be empty")
	}
	return nil
}

// LineCount returns the number of lines the chunk spans
func (c *Chunk) LineCount() int {
	return c.EndLine - c.StartLine + 1
}

// SymbolNames returns the names of all symbols in the chunk
func (c *Chunk) SymbolNames() []string {
	names := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		names = append(names, s.Name)
	}
	return names
}

// Overlap returns the number of lines shared by two line ranges
func Overlap(aStart, aEnd, bStart, bEnd int) int {
	lo := aStart
	if bStart > lo {
		lo = bStart
	}
	hi := aEnd
	if bEnd < hi {
		hi = bEnd
	}
	if hi < lo {
		return 0
	}
	return hi - lo + 1
}

// ImportModules returns the distinct module names of a chunk's imports
func (c *Chunk) ImportModules() []string {
	seen := make(map[string]bool, len(c.Imports))
	modules := make([]string, 0, len(c.Imports))
	for _, imp := range c.Imports {
		key := strings.ToLower(imp.Module)
		if !seen[key] {
			seen[key] = true
			modules = append(modules, imp.Module)
		}
	}
	return modules
}
