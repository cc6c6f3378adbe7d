package extractor

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/codemapper/codemap-mcp/pkg/types"
)

// boundaryPattern matches line starts that look like top-level declarations.
// Used to steer window edges toward syntactic boundaries before any tree is
// available.
var boundaryPattern = regexp.MustCompile(`^(export\s|class\s|function\s|async\s|def\s|func\s|interface\s|type\s|enum\s|namespace\s|const\s|let\s|var\s|public\s|private\s|protected\s)`)

// window is a bounded slice of an oversized file, aligned to line starts
type window struct {
	start     int // byte offset, inclusive
	end       int // byte offset, exclusive
	startLine int // 1-based line number of the first line in the window
}

// windowResult carries one window's output back to the combiner
type windowResult struct {
	chunks       []types.Chunk
	imports      []types.Import
	parseError   string
	failed       bool
	regexSymbols int
}

// extractWindowed handles files over the parser's single-pass limit: split
// into overlapping windows near syntactic boundaries, parse each window
// independently, translate line numbers back to file-absolute coordinates,
// deduplicate the overlap, and synthesize gap chunks so every line of the
// file is attributed to some chunk.
func (e *Extractor) extractWindowed(ctx context.Context, content []byte, language, filePath string) (*Result, error) {
	res := &Result{}

	windows := e.splitWindows(content)
	res.Metrics.Windows = len(windows)

	totalLines := bytes.Count(content, []byte{'\n'}) + 1
	lines := strings.Split(string(content), "\n")

	results := make([]windowResult, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range windows {
		g.Go(func() error {
			results[i] = e.extractWindow(gctx, content[w.start:w.end], w, language, filePath)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var imports []types.Import
	seen := make(map[windowDedupKey]bool)
	covered := make([]bool, totalLines+1) // 1-based

	for _, wr := range results {
		if wr.failed {
			res.Metrics.WindowFailed++
		}
		if wr.parseError != "" {
			res.ParseErrors = append(res.ParseErrors, wr.parseError)
		}
		res.Metrics.RegexSymbols += wr.regexSymbols
		if len(imports) == 0 && len(wr.imports) > 0 {
			imports = wr.imports
		}
		for _, chunk := range wr.chunks {
			// Windows overlap intentionally; the same unit may surface
			// twice. Keep the first occurrence.
			key := windowDedupKey{chunk.StartLine, chunk.EndLine, chunk.ChunkType}
			if seen[key] {
				continue
			}
			seen[key] = true
			res.Chunks = append(res.Chunks, chunk)
			for l := chunk.StartLine; l <= chunk.EndLine && l <= totalLines; l++ {
				covered[l] = true
			}
		}
	}

	res.Chunks = append(res.Chunks, e.gapChunks(lines, covered, totalLines, language, filePath, &res.Metrics)...)

	for i := range res.Chunks {
		res.Chunks[i].Imports = imports
	}

	sort.SliceStable(res.Chunks, func(i, j int) bool {
		if res.Chunks[i].StartLine != res.Chunks[j].StartLine {
			return res.Chunks[i].StartLine < res.Chunks[j].StartLine
		}
		return res.Chunks[i].EndLine < res.Chunks[j].EndLine
	})

	return res, nil
}

type windowDedupKey struct {
	startLine int
	endLine   int
	ctype     types.ChunkType
}

// extractWindow parses one window and returns its chunks in file-absolute
// coordinates. A window that fails to parse yields a single fallback chunk
// covering the whole window rather than being dropped.
func (e *Extractor) extractWindow(ctx context.Context, src []byte, w window, language, filePath string) windowResult {
	var wr windowResult

	tree, spec, err := e.registry.Parse(ctx, src, language)
	if err != nil {
		wr.failed = true
		wr.parseError = fmt.Sprintf("%s: window at line %d: %v", filePath, w.startLine, err)

		content := strings.TrimRight(string(src), "\n")
		if content == "" {
			return wr
		}
		endLine := w.startLine + strings.Count(content, "\n")
		chunk := types.Chunk{
			ID:           types.ChunkID(filePath, w.startLine, endLine),
			Content:      content,
			FilePath:     filePath,
			RelativePath: filePath,
			StartLine:    w.startLine,
			EndLine:      endLine,
			Language:     language,
			ChunkType:    types.ChunkMixed,
			Symbols:      e.fallback.ExtractSymbols(content, w.startLine),
		}
		chunk.ComputeSize()
		chunk.ComputeComplexity()
		if len(chunk.Symbols) > 0 {
			wr.regexSymbols++
		}
		wr.chunks = []types.Chunk{chunk}
		return wr
	}
	defer tree.Close()

	units := e.collectUnits(tree.RootNode(), spec, src)
	var dummy Metrics
	units = e.mergeAdjacent(units, src, &dummy)

	offset := w.startLine - 1
	for _, u := range units {
		chunk, regexSyms := e.buildChunk(u, spec, src, language, filePath, offset)
		if regexSyms {
			wr.regexSymbols++
		}
		wr.chunks = append(wr.chunks, chunk)
	}

	wr.imports = e.collectImports(tree.RootNode(), spec, src)
	for i := range wr.imports {
		wr.imports[i].Line += offset
	}

	return wr
}

// splitWindows cuts content into possibly overlapping windows, trying to land
// each window's end near a syntactic boundary. Starts and ends always fall on
// line starts so per-window line math stays exact.
func (e *Extractor) splitWindows(content []byte) []window {
	size := e.cfg.WindowSize
	overlap := e.cfg.WindowOverlap
	if size <= 0 {
		size = DefaultConfig().WindowSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 15
	}

	lineStarts := []int{0}
	for i, b := range content {
		if b == '\n' && i+1 < len(content) {
			lineStarts = append(lineStarts, i+1)
		}
	}

	var windows []window
	startIdx := 0
	for startIdx < len(lineStarts) {
		start := lineStarts[startIdx]
		target := start + size
		if target >= len(content) {
			windows = append(windows, window{start: start, end: len(content), startLine: startIdx + 1})
			break
		}

		endIdx := sort.SearchInts(lineStarts, target)
		if endIdx >= len(lineStarts) {
			endIdx = len(lineStarts) - 1
		}
		endIdx = e.nudgeToBoundary(content, lineStarts, endIdx, startIdx)

		windows = append(windows, window{start: start, end: lineStarts[endIdx], startLine: startIdx + 1})

		// Step back by the overlap, staying ahead of the previous start.
		nextStart := lineStarts[endIdx] - overlap
		nextIdx := sort.SearchInts(lineStarts, nextStart)
		if nextIdx <= startIdx {
			nextIdx = startIdx + 1
		}
		if nextIdx >= endIdx+1 {
			nextIdx = endIdx
		}
		if nextIdx <= startIdx {
			nextIdx = startIdx + 1
		}
		startIdx = nextIdx
	}

	return windows
}

// nudgeToBoundary walks the cut point backwards (at most a quarter window)
// looking for a line that starts a top-level declaration
func (e *Extractor) nudgeToBoundary(content []byte, lineStarts []int, endIdx, startIdx int) int {
	limit := lineStarts[endIdx] - e.cfg.WindowSize/4
	for idx := endIdx; idx > startIdx+1; idx-- {
		off := lineStarts[idx]
		if off < limit {
			break
		}
		lineEnd := len(content)
		if idx < len(lineStarts)-1 {
			lineEnd = lineStarts[idx+1]
		}
		if boundaryPattern.Match(bytes.TrimLeft(content[off:lineEnd], " \t")) {
			return idx
		}
	}
	return endIdx
}

// gapChunks synthesizes chunks for uncovered line ranges so that windowed
// extraction attributes every line of the file to some chunk
func (e *Extractor) gapChunks(lines []string, covered []bool, totalLines int, language, filePath string, m *Metrics) []types.Chunk {
	minRun := e.cfg.MinGapLines
	if minRun < 1 {
		minRun = 1
	}

	var chunks []types.Chunk
	runStart := 0
	for line := 1; line <= totalLines+1; line++ {
		uncovered := line <= totalLines && !covered[line]
		if uncovered && runStart == 0 {
			runStart = line
		}
		if !uncovered && runStart != 0 {
			runEnd := line - 1
			if runEnd-runStart+1 >= minRun {
				if chunk, ok := e.buildGapChunk(lines, runStart, runEnd, language, filePath); ok {
					chunks = append(chunks, chunk)
					m.GapChunks++
				}
			}
			runStart = 0
		}
	}
	return chunks
}

func (e *Extractor) buildGapChunk(lines []string, startLine, endLine int, language, filePath string) (types.Chunk, bool) {
	if endLine > len(lines) {
		endLine = len(lines)
	}
	content := strings.Join(lines[startLine-1:endLine], "\n")
	if strings.TrimSpace(content) == "" {
		return types.Chunk{}, false
	}

	chunk := types.Chunk{
		ID:           types.ChunkID(filePath, startLine, endLine),
		Content:      content,
		FilePath:     filePath,
		RelativePath: filePath,
		StartLine:    startLine,
		EndLine:      endLine,
		Language:     language,
		ChunkType:    types.ChunkGap,
		Symbols:      e.fallback.ExtractSymbols(content, startLine),
	}
	chunk.ComputeSize()
	chunk.ComputeComplexity()
	return chunk, true
}
