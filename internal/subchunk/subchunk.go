// Package subchunk splits chunks that exceed the size ceiling into
// context-preserving pieces. A single semantic unit (a large class, a long
// function) can be bigger than the ceiling; rather than truncating it, the
// splitter re-segments its text into typed sections, packs sections into
// sub-chunks up to the ceiling, and carries the highest-priority trailing
// sections across boundaries so each piece still shows relevant imports and
// exports when it surfaces in a search result.
package subchunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codemapper/codemap-mcp/pkg/types"
)

// sectionType classifies a run of lines inside a chunk
type sectionType int

const (
	sectionImport sectionType = iota
	sectionExport
	sectionInterface
	sectionClass
	sectionFunction
	sectionComment
	sectionOther
)

// priority orders sections for carry-forward: imports and exports highest,
// comments lowest
var priority = map[sectionType]int{
	sectionImport:    6,
	sectionExport:    5,
	sectionInterface: 4,
	sectionClass:     3,
	sectionFunction:  3,
	sectionComment:   1,
	sectionOther:     2,
}

var (
	importLine    = regexp.MustCompile(`^\s*(import\s|from\s+\S+\s+import\s)`)
	exportLine    = regexp.MustCompile(`^\s*export\s`)
	interfaceLine = regexp.MustCompile(`^\s*(?:export\s+)?(interface|type)\s+\w`)
	classLine     = regexp.MustCompile(`^\s*(?:export\s+)?(?:abstract\s+)?class\s+\w`)
	functionLine  = regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?(func|function|def)\s`)
	commentLine   = regexp.MustCompile(`^\s*(//|#|/\*|\*)`)
)

// section is a typed run of lines at one brace depth
type section struct {
	stype     sectionType
	startLine int // chunk-relative, 0-based
	lines     []string
	size      int
}

// Config contains the splitting parameters
type Config struct {
	MaxChunkSize int // Size ceiling inherited from the extractor
	MinOverlap   int // Minimum carried-forward context in characters
}

// DefaultConfig returns the default splitting parameters
func DefaultConfig() Config {
	return Config{
		MaxChunkSize: 2000,
		MinOverlap:   200,
	}
}

// Splitter splits oversized chunks into sub-chunks
type Splitter struct {
	cfg Config
}

// New creates a Splitter
func New(cfg Config) *Splitter {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = 2000
	}
	if cfg.MinOverlap <= 0 {
		cfg.MinOverlap = 200
	}
	return &Splitter{cfg: cfg}
}

// Split breaks an oversized chunk into sub-chunks under the size ceiling.
// Chunks already within the ceiling are returned unchanged.
func (s *Splitter) Split(chunk types.Chunk) []types.Chunk {
	if chunk.Size <= s.cfg.MaxChunkSize {
		return []types.Chunk{chunk}
	}

	sections := segment(chunk.Content)
	header := buildHeader(sections)

	// One declaration body can segment into a single section bigger than the
	// ceiling. Cut such sections into line runs that fit under the ceiling
	// once the header is accounted for.
	budget := s.cfg.MaxChunkSize - len(header) - 1
	if budget <= 0 {
		budget = s.cfg.MaxChunkSize
	}
	sections = splitOversized(sections, budget)

	var out []types.Chunk
	var cur []section
	curSize := len(header)
	fresh := false // cur holds sections not yet emitted, beyond carried context

	flush := func() {
		if len(cur) == 0 || !fresh {
			return
		}
		out = append(out, s.buildSubChunk(chunk, header, cur, len(out)))
		fresh = false

		// Carry the highest-priority trailing sections forward so the next
		// sub-chunk keeps relevant imports and exports in view.
		carried := carryForward(cur, s.cfg.MinOverlap)
		cur = carried
		curSize = len(header)
		for _, sec := range carried {
			curSize += sec.size
		}
	}

	for _, sec := range sections {
		if curSize+sec.size > s.cfg.MaxChunkSize && len(cur) > 0 {
			flush()
			if curSize+sec.size > s.cfg.MaxChunkSize {
				// Carried context alone would push this piece over the
				// ceiling; start the next sub-chunk without it.
				cur = nil
				curSize = len(header)
			}
		}
		cur = append(cur, sec)
		curSize += sec.size
		fresh = true
	}
	if len(cur) > 0 && fresh {
		out = append(out, s.buildSubChunk(chunk, header, cur, len(out)))
	}

	if len(out) == 0 {
		return []types.Chunk{chunk}
	}
	return out
}

// segment re-reads the chunk's text line-by-line into typed sections, using
// brace-depth tracking to tell top-level declarations from nested code
func segment(content string) []section {
	lines := strings.Split(content, "\n")
	var sections []section
	var cur *section
	depth := 0

	for i, line := range lines {
		stype := sectionOther
		if depth == 0 {
			switch {
			case importLine.MatchString(line):
				stype = sectionImport
			case interfaceLine.MatchString(line):
				stype = sectionInterface
			case classLine.MatchString(line):
				stype = sectionClass
			case functionLine.MatchString(line):
				stype = sectionFunction
			case exportLine.MatchString(line):
				stype = sectionExport
			case commentLine.MatchString(line):
				stype = sectionComment
			}
		} else if cur != nil {
			// Inside a declaration body; continue the current section.
			stype = cur.stype
		}

		if cur == nil || (depth == 0 && stype != cur.stype) {
			if cur != nil {
				sections = append(sections, *cur)
			}
			cur = &section{stype: stype, startLine: i}
		}
		cur.lines = append(cur.lines, line)
		cur.size += len(line) + 1

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth < 0 {
			depth = 0
		}
	}
	if cur != nil {
		sections = append(sections, *cur)
	}
	return sections
}

// splitOversized cuts every section larger than limit into consecutive line
// runs that each fit within limit. A run never splits mid-line, so a single
// line longer than limit stays whole.
func splitOversized(sections []section, limit int) []section {
	var out []section
	for _, sec := range sections {
		if sec.size <= limit {
			out = append(out, sec)
			continue
		}
		part := section{stype: sec.stype, startLine: sec.startLine}
		for i, line := range sec.lines {
			if len(part.lines) > 0 && part.size+len(line)+1 > limit {
				out = append(out, part)
				part = section{stype: sec.stype, startLine: sec.startLine + i}
			}
			part.lines = append(part.lines, line)
			part.size += len(line) + 1
		}
		if len(part.lines) > 0 {
			out = append(out, part)
		}
	}
	return out
}

// buildHeader reconstructs the file-level context prepended to every
// sub-chunk: global imports plus key exported interfaces
func buildHeader(sections []section) string {
	var b strings.Builder
	for _, sec := range sections {
		if sec.stype == sectionImport {
			b.WriteString(strings.Join(sec.lines, "\n"))
			b.WriteString("\n")
		}
	}
	for _, sec := range sections {
		if sec.stype == sectionInterface || sec.stype == sectionExport {
			// Only the declaration line, not the body.
			b.WriteString(strings.TrimRight(sec.lines[0], " \t"))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// carryForward selects the highest-priority trailing sections up to the
// minimum overlap size
func carryForward(sections []section, minOverlap int) []section {
	var carried []section
	size := 0
	best := -1
	for i := len(sections) - 1; i >= 0 && size < minOverlap; i-- {
		if priority[sections[i].stype] > best {
			best = priority[sections[i].stype]
		}
		if priority[sections[i].stype] < best {
			continue
		}
		carried = append([]section{sections[i]}, carried...)
		size += sections[i].size
	}
	return carried
}

// buildSubChunk assembles one sub-chunk from the header and its sections
func (s *Splitter) buildSubChunk(parent types.Chunk, header string, sections []section, ordinal int) types.Chunk {
	var b strings.Builder
	if header != "" {
		b.WriteString(header)
		b.WriteString("\n")
	}

	startLine := parent.StartLine + sections[0].startLine
	endLine := startLine
	for _, sec := range sections {
		b.WriteString(strings.Join(sec.lines, "\n"))
		b.WriteString("\n")
		last := parent.StartLine + sec.startLine + len(sec.lines) - 1
		if last > endLine {
			endLine = last
		}
	}
	if endLine > parent.EndLine {
		endLine = parent.EndLine
	}

	content := strings.TrimRight(b.String(), "\n")

	sub := types.Chunk{
		// Ordinal keeps IDs unique when carried context makes two
		// sub-chunks share a start line.
		ID:           types.ChunkID(fmt.Sprintf("%s#%d", parent.RelativePath, ordinal), startLine, endLine),
		Content:      content,
		FilePath:     parent.FilePath,
		RelativePath: parent.RelativePath,
		StartLine:    startLine,
		EndLine:      endLine,
		Language:     parent.Language,
		ChunkType:    parent.ChunkType,
		Imports:      inheritImports(parent.Imports, content),
	}
	sub.ComputeSize()
	sub.ComputeComplexity()

	for _, sym := range parent.Symbols {
		if sym.Line >= startLine && sym.Line <= endLine {
			sub.Symbols = append(sub.Symbols, sym)
		}
	}

	return sub
}

// inheritImports keeps only the parent imports whose module name appears in
// the sub-chunk's own text
func inheritImports(imports []types.Import, content string) []types.Import {
	var kept []types.Import
	for _, imp := range imports {
		base := imp.Module
		if idx := strings.LastIndexAny(base, "/."); idx >= 0 && idx+1 < len(base) {
			base = base[idx+1:]
		}
		if base != "" && strings.Contains(content, base) {
			kept = append(kept, imp)
		}
	}
	return kept
}
