package extractor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/codemapper/codemap-mcp/internal/lang"
	"github.com/codemapper/codemap-mcp/pkg/types"
)

// Config contains tunable extraction parameters
type Config struct {
	MinChunkSize  int // Minimum unit size in characters
	MaxChunkSize  int // Size ceiling for a single chunk
	MergeGap      int // Maximum textual gap between units merged into one mixed chunk
	FallbackLines int // Lines per chunk when parsing fails entirely
	WindowSize    int // Window size in bytes for oversized files
	WindowOverlap int // Overlap between adjacent windows in bytes
	MinGapLines   int // Minimum uncovered run emitted as a gap chunk
}

// DefaultConfig returns the default extraction parameters
func DefaultConfig() Config {
	return Config{
		MinChunkSize:  100,
		MaxChunkSize:  2000,
		MergeGap:      100,
		FallbackLines: 50,
		WindowSize:    30 * 1024,
		WindowOverlap: 2 * 1024,
		MinGapLines:   1,
	}
}

// Metrics counts what happened during one extraction
type Metrics struct {
	Parses        int
	Windows       int
	WindowFailed  int
	GapChunks     int
	MergedUnits   int
	FallbackUsed  bool
	RegexSymbols  int
}

// Result is the outcome of extracting one file
type Result struct {
	Chunks      []types.Chunk
	ParseErrors []string
	Metrics     Metrics
}

// Extractor turns raw source files into semantically bounded chunks using a
// concrete syntax tree, with windowed parsing for oversized files and naive
// line splitting when parsing fails.
type Extractor struct {
	registry *lang.Registry
	cfg      Config
	fallback SymbolExtractor
	log      *zap.Logger
}

// New creates an Extractor backed by the given language registry
func New(registry *lang.Registry, cfg Config, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxChunkSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Extractor{
		registry: registry,
		cfg:      cfg,
		fallback: NewRegexSymbolExtractor(),
		log:      log,
	}
}

// Extract produces chunks for one file. filePath is used for chunk identity;
// callers pass the path relative to the codebase root so IDs stay stable
// across machines. Parse failures are recovered locally and surfaced as
// diagnostics in the result, never as an error.
func (e *Extractor) Extract(ctx context.Context, content []byte, language, filePath string) (*Result, error) {
	res := &Result{}

	if len(content) == 0 {
		return res, nil
	}

	if len(content) > lang.MaxParseBytes {
		return e.extractWindowed(ctx, content, language, filePath)
	}

	tree, spec, err := e.registry.Parse(ctx, content, language)
	if err != nil {
		res.ParseErrors = append(res.ParseErrors, fmt.Sprintf("%s: %v", filePath, err))
		res.Metrics.FallbackUsed = true
		res.Chunks = e.fallbackChunks(content, language, filePath, 1, &res.Metrics)
		return res, nil
	}
	defer tree.Close()
	res.Metrics.Parses++

	units := e.collectUnits(tree.RootNode(), spec, content)
	units = e.mergeAdjacent(units, content, &res.Metrics)

	imports := e.collectImports(tree.RootNode(), spec, content)

	for _, u := range units {
		chunk, regexSyms := e.buildChunk(u, spec, content, language, filePath, 0)
		chunk.Imports = imports
		res.Chunks = append(res.Chunks, chunk)
		if regexSyms {
			res.Metrics.RegexSymbols++
		}
	}

	return res, nil
}

// unit is a captured syntax-tree span before it becomes a chunk
type unit struct {
	startByte uint32
	endByte   uint32
	startLine int // 1-based
	endLine   int // 1-based
	ctype     types.ChunkType
	node      *sitter.Node
}

// collectUnits walks the tree pre-order with an explicit worklist and captures
// nodes whose type is in the language's unit allow-list. Captured units are
// terminal: their children are never re-emitted as separate units. Oversized
// container nodes are descended instead of captured so their members become
// individually retrievable.
func (e *Extractor) collectUnits(root *sitter.Node, spec *lang.Spec, src []byte) []unit {
	var units []unit

	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		ctype, isUnit := spec.UnitTypes[node.Type()]
		if isUnit && node != root {
			size := int(node.EndByte() - node.StartByte())
			oversized := size > e.cfg.MaxChunkSize

			if oversized && spec.ContainerTypes[node.Type()] && hasChildUnit(node, spec) {
				// Too big to be one chunk; emit members instead.
			} else {
				units = append(units, unit{
					startByte: node.StartByte(),
					endByte:   node.EndByte(),
					startLine: int(node.StartPoint().Row) + 1,
					endLine:   int(node.EndPoint().Row) + 1,
					ctype:     ctype,
					node:      node,
				})
				continue
			}
		}

		// Push named children in reverse so they pop in source order.
		for i := int(node.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, node.NamedChild(i))
		}
	}

	sort.Slice(units, func(i, j int) bool { return units[i].startByte < units[j].startByte })
	return units
}

// hasChildUnit reports whether any descendant of node is itself a unit
func hasChildUnit(node *sitter.Node, spec *lang.Spec) bool {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if _, ok := spec.UnitTypes[child.Type()]; ok {
			return true
		}
		if hasChildUnit(child, spec) {
			return true
		}
	}
	return false
}

// mergeAdjacent folds runs of nearby units into single mixed chunks when the
// textual gap between them is small and the merged size stays under the
// ceiling. This avoids emitting many tiny fragments for files with short
// top-level declarations. Units still below MinChunkSize after merging are
// dropped.
func (e *Extractor) mergeAdjacent(units []unit, src []byte, m *Metrics) []unit {
	if len(units) == 0 {
		return units
	}

	merged := make([]unit, 0, len(units))
	cur := units[0]

	for _, next := range units[1:] {
		gap := int(next.startByte) - int(cur.endByte)
		mergedSize := int(next.endByte) - int(cur.startByte)
		if gap >= 0 && gap < e.cfg.MergeGap && mergedSize <= e.cfg.MaxChunkSize &&
			(int(cur.endByte-cur.startByte) < e.cfg.MinChunkSize || int(next.endByte-next.startByte) < e.cfg.MinChunkSize) {
			cur = unit{
				startByte: cur.startByte,
				endByte:   next.endByte,
				startLine: cur.startLine,
				endLine:   next.endLine,
				ctype:     types.ChunkMixed,
				node:      nil, // merged spans have no single node
			}
			m.MergedUnits++
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	merged = append(merged, cur)

	kept := merged[:0]
	for _, u := range merged {
		if int(u.endByte-u.startByte) >= e.cfg.MinChunkSize {
			kept = append(kept, u)
		}
	}
	return kept
}

// buildChunk materializes a unit into a chunk. lineOffset shifts line numbers
// into file-absolute coordinates for units extracted from a window. The bool
// reports whether the line-pattern fallback supplied the chunk's symbols.
func (e *Extractor) buildChunk(u unit, spec *lang.Spec, src []byte, language, filePath string, lineOffset int) (types.Chunk, bool) {
	content := string(src[u.startByte:u.endByte])
	startLine := u.startLine + lineOffset
	endLine := u.endLine + lineOffset

	chunk := types.Chunk{
		ID:           types.ChunkID(filePath, startLine, endLine),
		Content:      content,
		FilePath:     filePath,
		RelativePath: filePath,
		StartLine:    startLine,
		EndLine:      endLine,
		Language:     language,
		ChunkType:    u.ctype,
	}
	if chunk.ChunkType == "" {
		chunk.ChunkType = types.ChunkMixed
	}
	chunk.ComputeSize()
	chunk.ComputeComplexity()

	if u.node != nil {
		chunk.Symbols = e.treeSymbols(u.node, spec, src, lineOffset)
	}
	regexSyms := false
	if len(chunk.Symbols) == 0 {
		// Parser resolved no names; best-effort line-pattern pass.
		chunk.Symbols = e.fallback.ExtractSymbols(content, startLine)
		regexSyms = len(chunk.Symbols) > 0
	}

	return chunk, regexSyms
}

// treeSymbols re-traverses a unit's sub-tree for declaration-like nodes
func (e *Extractor) treeSymbols(node *sitter.Node, spec *lang.Spec, src []byte, lineOffset int) []types.Symbol {
	var symbols []types.Symbol

	stack := []*sitter.Node{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if kind, ok := spec.SymbolKinds[n.Type()]; ok {
			if name := lang.NodeName(n, src); name != "" {
				symbols = append(symbols, types.Symbol{
					Name: name,
					Kind: kind,
					Line: int(n.StartPoint().Row) + 1 + lineOffset,
				})
			}
		}

		for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.NamedChild(i))
		}
	}

	sort.SliceStable(symbols, func(i, j int) bool { return symbols[i].Line < symbols[j].Line })
	return symbols
}

// collectImports gathers file-level import statements
func (e *Extractor) collectImports(root *sitter.Node, spec *lang.Spec, src []byte) []types.Import {
	var imports []types.Import

	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if !spec.ImportTypes[child.Type()] {
			continue
		}
		line := int(child.StartPoint().Row) + 1
		imports = append(imports, parseImportText(child.Content(src), line)...)
	}

	return imports
}

// parseImportText extracts module names and imported identifiers from the
// text of one import statement. Heuristic and language-agnostic: quoted
// strings become modules, braced identifier lists become names.
func parseImportText(text string, line int) []types.Import {
	var imports []types.Import

	for _, raw := range strings.Split(text, "\n") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" || stmt == "import (" || stmt == ")" {
			continue
		}

		imp := types.Import{Line: line}

		if start := strings.IndexAny(stmt, `"'`); start >= 0 {
			quote := stmt[start]
			rest := stmt[start+1:]
			if end := strings.IndexByte(rest, quote); end >= 0 {
				imp.Module = rest[:end]
			}
		} else if strings.HasPrefix(stmt, "from ") {
			fields := strings.Fields(stmt)
			if len(fields) >= 2 {
				imp.Module = fields[1]
			}
		} else if strings.HasPrefix(stmt, "import ") {
			fields := strings.Fields(strings.TrimPrefix(stmt, "import "))
			if len(fields) >= 1 {
				imp.Module = strings.TrimSuffix(fields[0], ",")
			}
		}

		if open := strings.IndexByte(stmt, '{'); open >= 0 {
			if close := strings.IndexByte(stmt[open:], '}'); close > 0 {
				for _, name := range strings.Split(stmt[open+1:open+close], ",") {
					name = strings.TrimSpace(name)
					if name != "" {
						imp.Names = append(imp.Names, name)
					}
				}
			}
		} else if strings.HasPrefix(stmt, "from ") {
			if idx := strings.Index(stmt, " import "); idx >= 0 {
				for _, name := range strings.Split(stmt[idx+len(" import "):], ",") {
					name = strings.TrimSpace(name)
					if name != "" && name != "*" {
						imp.Names = append(imp.Names, name)
					}
				}
			}
		}

		if imp.Module != "" {
			imports = append(imports, imp)
		}
	}

	return imports
}
