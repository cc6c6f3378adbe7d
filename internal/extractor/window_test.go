package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemapper/codemap-mcp/internal/lang"
	"github.com/codemapper/codemap-mcp/pkg/types"
)

// buildOversizedTS generates a TypeScript file well over the single-parse
// limit: numbered handler functions separated by comment lines, so semantic
// units and uncovered comment runs are both present.
func buildOversizedTS(handlers int) string {
	var sb strings.Builder
	sb.WriteString(`import { send } from "transport";` + "\n\n")
	for i := 0; i < handlers; i++ {
		fmt.Fprintf(&sb, "// handler %d routes one request\n", i)
		fmt.Fprintf(&sb, `function handler%d(req: Request): Response {
    const payload = { id: %d, name: "item%d", tags: ["a", "b", "c"] };
    if (!req) {
        throw new Error("missing request");
    }
    return send(payload);
}

`, i, i, i)
	}
	return sb.String()
}

func TestExtractWindowed_OversizedTypeScript(t *testing.T) {
	src := buildOversizedTS(250)
	require.Greater(t, len(src), lang.MaxParseBytes)

	e := newTestExtractor(t)

	res, err := e.Extract(context.Background(), []byte(src), "typescript", "handlers.ts")
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Metrics.Windows, 2)
	assert.Zero(t, res.Metrics.WindowFailed)

	var semantic, gaps int
	seen := map[windowDedupKey]bool{}
	totalLines := strings.Count(src, "\n") + 1
	covered := make([]bool, totalLines+1)

	for _, c := range res.Chunks {
		require.NoError(t, c.Validate())
		assert.LessOrEqual(t, c.EndLine, totalLines)

		key := windowDedupKey{c.StartLine, c.EndLine, c.ChunkType}
		assert.False(t, seen[key], "duplicate span %s:%d-%d", c.RelativePath, c.StartLine, c.EndLine)
		seen[key] = true

		switch c.ChunkType {
		case types.ChunkGap:
			gaps++
		default:
			semantic++
		}
		for l := c.StartLine; l <= c.EndLine; l++ {
			covered[l] = true
		}
	}

	assert.GreaterOrEqual(t, semantic, 3)
	assert.GreaterOrEqual(t, gaps, 1)

	// Every non-blank line of the file belongs to some chunk.
	for i, line := range strings.Split(src, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		assert.True(t, covered[i+1], "line %d uncovered: %q", i+1, line)
	}

	// Chunks come back in file order.
	for i := 1; i < len(res.Chunks); i++ {
		assert.LessOrEqual(t, res.Chunks[i-1].StartLine, res.Chunks[i].StartLine)
	}
}

func TestExtractWindowed_LineTranslation(t *testing.T) {
	src := buildOversizedTS(250)
	e := newTestExtractor(t)

	res, err := e.Extract(context.Background(), []byte(src), "typescript", "handlers.ts")
	require.NoError(t, err)

	lines := strings.Split(src, "\n")
	checked := 0
	for _, c := range res.Chunks {
		if c.ChunkType != types.ChunkFunction {
			continue
		}
		// A function chunk's first line must be the declaration the parser
		// saw, in file-absolute coordinates.
		firstChunkLine := strings.SplitN(c.Content, "\n", 2)[0]
		assert.Equal(t, strings.TrimRight(lines[c.StartLine-1], "\r"), firstChunkLine)
		checked++
	}
	require.Greater(t, checked, 0)
}

func TestSplitWindows(t *testing.T) {
	src := []byte(buildOversizedTS(250))
	e := newTestExtractor(t)

	windows := e.splitWindows(src)
	require.GreaterOrEqual(t, len(windows), 2)

	assert.Equal(t, 0, windows[0].start)
	assert.Equal(t, 1, windows[0].startLine)
	assert.Equal(t, len(src), windows[len(windows)-1].end)

	for i, w := range windows {
		require.Less(t, w.start, w.end)

		// Starts and ends always fall on line starts.
		if w.start > 0 {
			assert.Equal(t, byte('\n'), src[w.start-1])
		}
		if w.end < len(src) {
			assert.Equal(t, byte('\n'), src[w.end-1])
		}

		assert.Equal(t, bytes.Count(src[:w.start], []byte{'\n'})+1, w.startLine)

		if i > 0 {
			// Adjacent windows overlap and advance.
			assert.Less(t, w.start, windows[i-1].end)
			assert.Greater(t, w.start, windows[i-1].start)
		}
	}
}

func TestSplitWindows_SmallInputSingleWindow(t *testing.T) {
	e := newTestExtractor(t)

	src := []byte("function tiny() {}\n")
	windows := e.splitWindows(src)
	require.Len(t, windows, 1)
	assert.Equal(t, window{start: 0, end: len(src), startLine: 1}, windows[0])
}

func TestGapChunks(t *testing.T) {
	e := newTestExtractor(t)

	lines := []string{
		"// intro",      // 1: uncovered
		"covered line",  // 2
		"",              // 3: uncovered but blank
		"trailing code", // 4: uncovered
	}
	covered := make([]bool, len(lines)+1)
	covered[2] = true

	var m Metrics
	chunks := e.gapChunks(lines, covered, len(lines), "typescript", "file.ts", &m)

	require.Len(t, chunks, 2)
	assert.Equal(t, 2, m.GapChunks)

	assert.Equal(t, types.ChunkGap, chunks[0].ChunkType)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 1, chunks[0].EndLine)
	assert.Equal(t, "// intro", chunks[0].Content)

	assert.Equal(t, 3, chunks[1].StartLine)
	assert.Equal(t, 4, chunks[1].EndLine)
	assert.Equal(t, "\ntrailing code", chunks[1].Content)
}
