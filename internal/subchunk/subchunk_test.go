package subchunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemapper/codemap-mcp/pkg/types"
)

// buildOversizedChunk assembles a TypeScript-shaped chunk over the ceiling:
// one import, one exported interface, then numbered functions.
func buildOversizedChunk(functions int) types.Chunk {
	var sb strings.Builder
	sb.WriteString("import { api } from \"./api\";\n\n")
	sb.WriteString("export interface Task {\n    id: number;\n}\n\n")
	for i := 0; i < functions; i++ {
		fmt.Fprintf(&sb, "function step%d(task: Task) {\n", i)
		for j := 0; j < 6; j++ {
			fmt.Fprintf(&sb, "    api.record(\"step%d\", task.id + %d);\n", i, j)
		}
		sb.WriteString("}\n\n")
	}
	content := strings.TrimRight(sb.String(), "\n")

	chunk := types.Chunk{
		Content:      content,
		FilePath:     "/work/proj/src/steps.ts",
		RelativePath: "src/steps.ts",
		StartLine:    1,
		EndLine:      strings.Count(content, "\n") + 1,
		Language:     "typescript",
		ChunkType:    types.ChunkMixed,
		Imports:      []types.Import{{Module: "./api", Names: []string{"api"}, Line: 1}},
	}
	chunk.ID = types.ChunkID(chunk.RelativePath, chunk.StartLine, chunk.EndLine)
	chunk.ComputeSize()

	for i, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "function step") {
			name := strings.TrimSuffix(strings.Fields(line)[1], "(task:")
			chunk.Symbols = append(chunk.Symbols, types.Symbol{
				Name: name,
				Kind: types.KindFunction,
				Line: i + 1,
			})
		}
	}
	return chunk
}

func TestSplit_UnderCeilingUnchanged(t *testing.T) {
	s := New(DefaultConfig())

	chunk := types.Chunk{
		ID:        "a.ts:1-3",
		Content:   "function small() {\n    return 1;\n}",
		StartLine: 1,
		EndLine:   3,
		ChunkType: types.ChunkFunction,
	}
	chunk.ComputeSize()

	out := s.Split(chunk)
	require.Len(t, out, 1)
	assert.Equal(t, chunk, out[0])
}

func TestSplit_Oversized(t *testing.T) {
	s := New(DefaultConfig())
	parent := buildOversizedChunk(10)
	require.Greater(t, parent.Size, s.cfg.MaxChunkSize)

	out := s.Split(parent)
	require.GreaterOrEqual(t, len(out), 2)

	ids := map[string]bool{}
	prevStart := 0
	for i, sub := range out {
		assert.False(t, ids[sub.ID], "duplicate sub-chunk ID %s", sub.ID)
		ids[sub.ID] = true
		assert.Contains(t, sub.ID, fmt.Sprintf("#%d:", i))

		assert.Equal(t, parent.RelativePath, sub.RelativePath)
		assert.Equal(t, parent.Language, sub.Language)
		assert.Equal(t, parent.ChunkType, sub.ChunkType)

		assert.LessOrEqual(t, sub.Size, s.cfg.MaxChunkSize, "sub-chunk %d over ceiling", i)

		// Every piece keeps the file-level header in view.
		assert.Contains(t, sub.Content, `import { api } from "./api";`)
		assert.Contains(t, sub.Content, "export interface Task {")

		assert.GreaterOrEqual(t, sub.StartLine, parent.StartLine)
		assert.LessOrEqual(t, sub.EndLine, parent.EndLine)
		assert.GreaterOrEqual(t, sub.StartLine, prevStart)
		prevStart = sub.StartLine

		// Module name api appears in every piece, so imports carry over.
		require.NotEmpty(t, sub.Imports)
		assert.Equal(t, "./api", sub.Imports[0].Module)

		for _, sym := range sub.Symbols {
			assert.GreaterOrEqual(t, sym.Line, sub.StartLine)
			assert.LessOrEqual(t, sym.Line, sub.EndLine)
		}
	}

	assert.Equal(t, parent.EndLine, out[len(out)-1].EndLine)

	// No parent symbol is lost across the split.
	found := map[string]bool{}
	for _, sub := range out {
		for _, sym := range sub.Symbols {
			found[sym.Name] = true
		}
	}
	for _, sym := range parent.Symbols {
		assert.True(t, found[sym.Name], "symbol %s missing from all sub-chunks", sym.Name)
	}
}

// buildSingleClassChunk assembles one exported class whose brace depth stays
// above zero from the opening line until the final closing brace, so
// line-based segmentation sees the whole body as one run.
func buildSingleClassChunk(methods int) types.Chunk {
	var sb strings.Builder
	sb.WriteString("export class SessionLedger {\n")
	sb.WriteString("    entries: number[] = [];\n")
	for i := 0; i < methods; i++ {
		fmt.Fprintf(&sb, "    record%d(value: number) {\n", i)
		fmt.Fprintf(&sb, "        this.entries.push(value + %d);\n", i)
		fmt.Fprintf(&sb, "        return this.entries.length + %d;\n", i)
		sb.WriteString("    }\n")
	}
	sb.WriteString("}")
	content := sb.String()

	chunk := types.Chunk{
		Content:      content,
		FilePath:     "/work/proj/src/ledger.ts",
		RelativePath: "src/ledger.ts",
		StartLine:    1,
		EndLine:      strings.Count(content, "\n") + 1,
		Language:     "typescript",
		ChunkType:    types.ChunkClass,
		Symbols:      []types.Symbol{{Name: "SessionLedger", Kind: types.KindClass, Line: 1}},
	}
	chunk.ID = types.ChunkID(chunk.RelativePath, chunk.StartLine, chunk.EndLine)
	chunk.ComputeSize()

	for i := 0; i < methods; i++ {
		chunk.Symbols = append(chunk.Symbols, types.Symbol{
			Name: fmt.Sprintf("record%d", i),
			Kind: types.KindMethod,
			Line: 3 + 4*i,
		})
	}
	return chunk
}

func TestSplit_SingleLargeDeclaration(t *testing.T) {
	s := New(DefaultConfig())
	parent := buildSingleClassChunk(40)
	require.Greater(t, parent.Size, 2*s.cfg.MaxChunkSize)

	out := s.Split(parent)
	require.GreaterOrEqual(t, len(out), 3)

	ids := map[string]bool{}
	for i, sub := range out {
		assert.LessOrEqual(t, sub.Size, s.cfg.MaxChunkSize, "sub-chunk %d over ceiling", i)
		assert.False(t, ids[sub.ID], "duplicate sub-chunk ID %s", sub.ID)
		ids[sub.ID] = true
		assert.GreaterOrEqual(t, sub.StartLine, parent.StartLine)
		assert.LessOrEqual(t, sub.EndLine, parent.EndLine)
	}

	// Every method of the class survives in some piece.
	var joined strings.Builder
	for _, sub := range out {
		joined.WriteString(sub.Content)
		joined.WriteString("\n")
	}
	for i := 0; i < 40; i++ {
		assert.Contains(t, joined.String(), fmt.Sprintf("record%d(value: number)", i))
	}
}

func TestCarryForward(t *testing.T) {
	sections := []section{
		{stype: sectionFunction, size: 100},
		{stype: sectionImport, size: 30},
	}
	carried := carryForward(sections, 60)

	// The trailing import outranks the function, which is skipped once a
	// higher-priority section has been taken.
	require.Len(t, carried, 1)
	assert.Equal(t, sectionImport, carried[0].stype)
}

func TestCarryForward_FillsToOverlap(t *testing.T) {
	sections := []section{
		{stype: sectionImport, size: 30},
		{stype: sectionFunction, size: 100},
		{stype: sectionComment, size: 50},
	}
	carried := carryForward(sections, 60)

	require.Len(t, carried, 2)
	assert.Equal(t, sectionFunction, carried[0].stype)
	assert.Equal(t, sectionComment, carried[1].stype)
}

func TestSegment(t *testing.T) {
	content := strings.Join([]string{
		`import { a } from "./a";`,
		`// explains the class`,
		`export class Runner {`,
		`    run() {`,
		`        return a();`,
		`    }`,
		`}`,
		`function helper() {`,
		`    return 2;`,
		`}`,
	}, "\n")

	sections := segment(content)
	require.Len(t, sections, 4)
	assert.Equal(t, sectionImport, sections[0].stype)
	assert.Equal(t, sectionComment, sections[1].stype)
	assert.Equal(t, sectionClass, sections[2].stype)
	assert.Len(t, sections[2].lines, 5)
	assert.Equal(t, sectionFunction, sections[3].stype)
}
