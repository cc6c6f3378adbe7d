package searcher

import (
	"sort"

	"github.com/codemapper/codemap-mcp/internal/vectorstore"
	"github.com/codemapper/codemap-mcp/pkg/types"
)

// Fusion defaults. K and Scale are empirically chosen smoothing constants;
// both are tunable.
const (
	DefaultRRFK          = 60.0
	DefaultRRFScale      = 1.0
	DefaultVectorWeight  = 0.6
	DefaultLexicalWeight = 0.4
	DefaultOverlapDedup  = 0.7

	// rankBonusStep is the per-position bonus that counters score
	// compression at the tail of the fused list
	rankBonusStep = 0.01
)

// FusionConfig tunes reciprocal-rank fusion
type FusionConfig struct {
	K             float64
	Scale         float64
	VectorWeight  float64
	LexicalWeight float64
	// MinScore drops fused items below this floor before normalization
	MinScore float64
	// OverlapThreshold is the fraction of a span's own length above which
	// overlap with a higher-ranked span from the same file makes it a
	// duplicate
	OverlapThreshold float64
}

// DefaultFusionConfig returns the default fusion constants
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		K:                DefaultRRFK,
		Scale:            DefaultRRFScale,
		VectorWeight:     DefaultVectorWeight,
		LexicalWeight:    DefaultLexicalWeight,
		MinScore:         0.0,
		OverlapThreshold: DefaultOverlapDedup,
	}
}

type fusedItem struct {
	row      vectorstore.ScoredRow
	score    float64
	inVector bool
}

// FuseRRF merges a vector-ranked list and a lexical-ranked list into one
// ordered, deduplicated match list using reciprocal-rank fusion:
// each appearance contributes weight × scale / (k + rank + 1).
func FuseRRF(vectorRows, lexicalRows []vectorstore.ScoredRow, cfg FusionConfig) []types.SearchMatch {
	if cfg.K <= 0 {
		cfg.K = DefaultRRFK
	}
	if cfg.Scale <= 0 {
		cfg.Scale = DefaultRRFScale
	}
	if cfg.OverlapThreshold <= 0 {
		cfg.OverlapThreshold = DefaultOverlapDedup
	}

	items := make(map[string]*fusedItem, len(vectorRows)+len(lexicalRows))

	for rank, row := range vectorRows {
		contribution := cfg.VectorWeight * cfg.Scale / (cfg.K + float64(rank) + 1)
		items[row.ID] = &fusedItem{row: row, score: contribution, inVector: true}
	}
	for rank, row := range lexicalRows {
		contribution := cfg.LexicalWeight * cfg.Scale / (cfg.K + float64(rank) + 1)
		if item, ok := items[row.ID]; ok {
			item.score += contribution
			continue
		}
		items[row.ID] = &fusedItem{row: row, score: contribution}
	}

	fused := make([]*fusedItem, 0, len(items))
	for _, item := range items {
		if item.score < cfg.MinScore {
			continue
		}
		fused = append(fused, item)
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].row.ID < fused[j].row.ID
	})

	if len(fused) == 0 {
		return nil
	}

	// Normalize by the top score, then add a rank-position bonus so tail
	// scores stay distinguishable after compression.
	top := fused[0].score
	matches := make([]types.SearchMatch, 0, len(fused))
	for i, item := range fused {
		matchType := types.MatchTypeLexical
		if item.inVector {
			matchType = types.MatchTypeSemantic
		}
		m := rowToMatch(item.row, matchType)
		m.Score = item.score/top + rankBonusStep*float64(len(fused)-i)/float64(len(fused))
		matches = append(matches, m)
	}

	return DeduplicateSpans(matches, cfg.OverlapThreshold)
}

// DeduplicateSpans removes duplicate spans in two passes over a
// descending-ranked list: exact (path, startLine, endLine) repeats first,
// then spans overlapping a higher-ranked same-file span by more than
// threshold of their own length.
func DeduplicateSpans(matches []types.SearchMatch, threshold float64) []types.SearchMatch {
	type spanKey struct {
		path       string
		start, end int
	}
	seen := make(map[spanKey]bool, len(matches))
	exact := make([]types.SearchMatch, 0, len(matches))
	for _, m := range matches {
		key := spanKey{m.Chunk.RelativePath, m.Chunk.StartLine, m.Chunk.EndLine}
		if seen[key] {
			continue
		}
		seen[key] = true
		exact = append(exact, m)
	}

	out := make([]types.SearchMatch, 0, len(exact))
	for _, m := range exact {
		duplicate := false
		for _, kept := range out {
			if kept.Chunk.RelativePath != m.Chunk.RelativePath {
				continue
			}
			overlap := types.Overlap(kept.Chunk.StartLine, kept.Chunk.EndLine, m.Chunk.StartLine, m.Chunk.EndLine)
			if float64(overlap) > threshold*float64(m.Chunk.LineCount()) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, m)
		}
	}
	return out
}
