package searcher

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemapper/codemap-mcp/internal/vectorstore"
	"github.com/codemapper/codemap-mcp/pkg/types"
)

func scoredRow(id, path string, start, end int) vectorstore.ScoredRow {
	return vectorstore.ScoredRow{Row: vectorstore.Row{
		ID:           id,
		Content:      fmt.Sprintf("content of %s", id),
		FilePath:     "/work/" + path,
		RelativePath: path,
		StartLine:    start,
		EndLine:      end,
	}}
}

func TestFuseRRF_WeightedMerge(t *testing.T) {
	vector := []vectorstore.ScoredRow{
		scoredRow("v1", "a.ts", 1, 10),
		scoredRow("v2", "b.ts", 1, 10),
	}
	lexical := []vectorstore.ScoredRow{
		scoredRow("v2", "b.ts", 1, 10),
		scoredRow("v3", "c.ts", 1, 10),
	}

	matches := FuseRRF(vector, lexical, DefaultFusionConfig())
	require.Len(t, matches, 3)

	// v2 appears in both lists; its summed contribution beats the vector
	// leader even at the heavier vector weight.
	assert.Equal(t, "v2", matches[0].Chunk.ID)
	assert.Equal(t, "v1", matches[1].Chunk.ID)
	assert.Equal(t, "v3", matches[2].Chunk.ID)

	// Top score is 1.0 plus the full rank bonus; scores strictly descend.
	assert.InDelta(t, 1.0+rankBonusStep, matches[0].Score, 1e-9)
	assert.Greater(t, matches[0].Score, matches[1].Score)
	assert.Greater(t, matches[1].Score, matches[2].Score)

	assert.Equal(t, types.MatchTypeSemantic, matches[0].MatchType)
	assert.Equal(t, types.MatchTypeSemantic, matches[1].MatchType)
	assert.Equal(t, types.MatchTypeLexical, matches[2].MatchType)
}

func TestFuseRRF_MinScoreFloor(t *testing.T) {
	vector := []vectorstore.ScoredRow{
		scoredRow("v1", "a.ts", 1, 10),
		scoredRow("v2", "b.ts", 1, 10),
	}
	lexical := []vectorstore.ScoredRow{
		scoredRow("v2", "b.ts", 1, 10),
		scoredRow("v3", "c.ts", 1, 10),
	}

	cfg := DefaultFusionConfig()
	// Between the lexical-only tail contribution (0.4/62) and the weakest
	// vector contribution (0.6/62), so only v3 falls below the floor.
	cfg.MinScore = 0.008

	matches := FuseRRF(vector, lexical, cfg)
	require.Len(t, matches, 2)
	assert.Equal(t, "v2", matches[0].Chunk.ID)
	assert.Equal(t, "v1", matches[1].Chunk.ID)
}

func TestFuseRRF_Empty(t *testing.T) {
	assert.Nil(t, FuseRRF(nil, nil, DefaultFusionConfig()))
}

func TestFuseRRF_ExactSpanDedup(t *testing.T) {
	// Same span surfaced under two IDs, one per list.
	vector := []vectorstore.ScoredRow{scoredRow("idA", "a.ts", 1, 10)}
	lexical := []vectorstore.ScoredRow{scoredRow("idB", "a.ts", 1, 10)}

	matches := FuseRRF(vector, lexical, DefaultFusionConfig())
	require.Len(t, matches, 1)
	assert.Equal(t, "idA", matches[0].Chunk.ID)
}

func newSpanMatch(id, path string, start, end int, score float64) types.SearchMatch {
	return types.SearchMatch{
		Chunk: types.Chunk{
			ID:           id,
			RelativePath: path,
			StartLine:    start,
			EndLine:      end,
		},
		Score:     score,
		MatchType: types.MatchTypeSemantic,
	}
}

func TestDeduplicateSpans_Overlap(t *testing.T) {
	matches := []types.SearchMatch{
		newSpanMatch("big", "a.ts", 1, 100, 1.0),
		// 11 of its 11 lines overlap the higher-ranked span: duplicate.
		newSpanMatch("inner", "a.ts", 40, 50, 0.8),
		// 11 of its 61 lines overlap: kept.
		newSpanMatch("edge", "a.ts", 90, 150, 0.6),
		// Same lines in another file: kept.
		newSpanMatch("other", "b.ts", 40, 50, 0.5),
	}

	out := DeduplicateSpans(matches, DefaultOverlapDedup)
	require.Len(t, out, 3)
	assert.Equal(t, "big", out[0].Chunk.ID)
	assert.Equal(t, "edge", out[1].Chunk.ID)
	assert.Equal(t, "other", out[2].Chunk.ID)
}

func TestDeduplicateSpans_ThresholdBoundary(t *testing.T) {
	matches := []types.SearchMatch{
		newSpanMatch("big", "a.ts", 1, 100, 1.0),
		newSpanMatch("inner", "a.ts", 40, 50, 0.8),
	}

	// Overlap must exceed threshold x own length; full containment equals
	// it at threshold 1.0, so the span survives.
	out := DeduplicateSpans(matches, 1.0)
	assert.Len(t, out, 2)

	out = DeduplicateSpans(matches, 0.7)
	assert.Len(t, out, 1)
}
