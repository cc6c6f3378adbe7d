package extractor

import (
	"regexp"
	"strings"

	"github.com/codemapper/codemap-mcp/pkg/types"
)

// SymbolExtractor is the capability interface for secondary symbol
// extraction. The tree-based extractor is primary; implementations of this
// interface run when the tree yields zero symbols or no tree exists.
type SymbolExtractor interface {
	// ExtractSymbols returns a best-effort symbol list for a span of text.
	// startLine is the file-absolute line number of the first line.
	ExtractSymbols(text string, startLine int) []types.Symbol
}

// linePattern pairs a line-oriented regex with the symbol kind it detects
type linePattern struct {
	re   *regexp.Regexp
	kind types.SymbolKind
}

// regexSymbolExtractor extracts symbols by line-oriented pattern matching.
// Covers the declaration syntax of all registered languages well enough for
// fallback chunks to remain searchable by symbol name.
type regexSymbolExtractor struct {
	patterns []linePattern
}

// NewRegexSymbolExtractor creates the line-pattern fallback extractor
func NewRegexSymbolExtractor() SymbolExtractor {
	return &regexSymbolExtractor{
		patterns: []linePattern{
			{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`), types.KindClass},
			{regexp.MustCompile(`^\s*(?:export\s+)?interface\s+([A-Za-z_$][\w$]*)`), types.KindInterface},
			{regexp.MustCompile(`^\s*(?:export\s+)?enum\s+([A-Za-z_$][\w$]*)`), types.KindEnum},
			{regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)`), types.KindFunction},
			{regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s*)?(?:\(|function|\w+\s*=>)`), types.KindFunction},
			{regexp.MustCompile(`^\s*(?:export\s+)?type\s+([A-Za-z_$][\w$]*)\s*=`), types.KindType},
			{regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_]\w*)`), types.KindFunction},
			{regexp.MustCompile(`^\s*func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)`), types.KindFunction},
			{regexp.MustCompile(`^\s*type\s+([A-Za-z_]\w*)\s+(?:struct|interface)`), types.KindType},
		},
	}
}

// ExtractSymbols scans each line against the declaration patterns, keeping
// the first pattern that matches per line
func (x *regexSymbolExtractor) ExtractSymbols(text string, startLine int) []types.Symbol {
	var symbols []types.Symbol

	for i, line := range strings.Split(text, "\n") {
		for _, p := range x.patterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			symbols = append(symbols, types.Symbol{
				Name: m[1],
				Kind: p.kind,
				Line: startLine + i,
			})
			break
		}
	}

	return symbols
}

// fallbackChunks splits content into fixed-size line-count chunks when no
// syntax tree is available at all. baseLine shifts line numbers for window
// fallbacks.
func (e *Extractor) fallbackChunks(content []byte, language, filePath string, baseLine int, m *Metrics) []types.Chunk {
	linesPer := e.cfg.FallbackLines
	if linesPer <= 0 {
		linesPer = DefaultConfig().FallbackLines
	}

	lines := strings.Split(string(content), "\n")
	var chunks []types.Chunk

	for i := 0; i < len(lines); i += linesPer {
		end := i + linesPer
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.Join(lines[i:end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}

		startLine := baseLine + i
		endLine := baseLine + end - 1
		chunk := types.Chunk{
			ID:           types.ChunkID(filePath, startLine, endLine),
			Content:      text,
			FilePath:     filePath,
			RelativePath: filePath,
			StartLine:    startLine,
			EndLine:      endLine,
			Language:     language,
			ChunkType:    types.ChunkMixed,
			Symbols:      e.fallback.ExtractSymbols(text, startLine),
		}
		chunk.ComputeSize()
		chunk.ComputeComplexity()
		if len(chunk.Symbols) > 0 {
			m.RegexSymbols++
		}
		chunks = append(chunks, chunk)
	}

	return chunks
}
