package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkID_ShortPath(t *testing.T) {
	id := ChunkID("src/main.go", 1, 20)
	assert.Equal(t, "src/main.go:1-20", id)
	assert.LessOrEqual(t, len(id), MaxIDBytes)
}

func TestChunkID_LongPathTruncated(t *testing.T) {
	long := strings.Repeat("deeply/nested/", 10) + "file.ts"
	require.Greater(t, len(long), MaxIDBytes)

	id := ChunkID(long, 100, 250)
	assert.LessOrEqual(t, len(id), MaxIDBytes)
	assert.Contains(t, id, ":100-250")

	// Same input, same ID; different paths stay distinct.
	assert.Equal(t, id, ChunkID(long, 100, 250))
	other := ChunkID(strings.Repeat("deeply/nested/", 10)+"other.ts", 100, 250)
	assert.NotEqual(t, id, other)
}

func TestComputeComplexity(t *testing.T) {
	tests := []struct {
		name    string
		content string
		lines   int
		want    Complexity
	}{
		{"short flat", "x = 1", 3, ComplexityLow},
		{"long flat", "x = 1", 40, ComplexityMedium},
		{"very long", "x = 1", 120, ComplexityHigh},
		{"deeply nested", "{{{{{}}}}}", 5, ComplexityHigh},
		{"moderately nested", "{{{}}}", 5, ComplexityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Chunk{Content: tt.content, StartLine: 1, EndLine: tt.lines}
			assert.Equal(t, tt.want, c.ComputeComplexity())
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Chunk{
		ID:        ChunkID("a.go", 1, 2),
		Content:   "func a() {}",
		Size:      11,
		StartLine: 1,
		EndLine:   2,
		ChunkType: ChunkFunction,
	}
	assert.NoError(t, valid.Validate())

	inverted := valid
	inverted.StartLine, inverted.EndLine = 5, 2
	assert.Error(t, inverted.Validate())

	badSize := valid
	badSize.Size = 3
	assert.Error(t, badSize.Validate())

	noType := valid
	noType.ChunkType = ""
	assert.Error(t, noType.Validate())
}

func TestOverlap(t *testing.T) {
	tests := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd int
		want                       int
	}{
		{"disjoint", 1, 5, 10, 20, 0},
		{"touching", 1, 5, 5, 9, 1},
		{"contained", 1, 100, 40, 50, 11},
		{"identical", 3, 7, 3, 7, 5},
		{"partial", 1, 10, 8, 20, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlap(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd))
			assert.Equal(t, tt.want, Overlap(tt.bStart, tt.bEnd, tt.aStart, tt.aEnd))
		})
	}
}

func TestImportModules(t *testing.T) {
	c := Chunk{Imports: []Import{
		{Module: "react", Line: 1},
		{Module: "./utils", Line: 2},
		{Module: "React", Line: 3},
	}}
	assert.Equal(t, []string{"react", "./utils"}, c.ImportModules())
}
