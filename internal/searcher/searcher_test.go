package searcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemapper/codemap-mcp/internal/embedder"
	"github.com/codemapper/codemap-mcp/internal/reranker"
	"github.com/codemapper/codemap-mcp/internal/vectorstore"
	"github.com/codemapper/codemap-mcp/internal/vectorstore/memory"
	"github.com/codemapper/codemap-mcp/pkg/types"
)

const testNamespace = "proj-abc123"

// stubEmbedder returns canned vectors per text so similarity is controlled
// by the test, not by a real model.
type stubEmbedder struct {
	vectors map[string][]float32
	def     []float32
}

func (s *stubEmbedder) GenerateEmbedding(_ context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	v, ok := s.vectors[req.Text]
	if !ok {
		v = s.def
	}
	return &embedder.Embedding{Vector: v, Dimension: len(v), Provider: "stub", Model: "stub"}, nil
}

func (s *stubEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	resp := &embedder.BatchEmbeddingResponse{Provider: "stub", Model: "stub"}
	for _, text := range req.Texts {
		emb, err := s.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		resp.Embeddings = append(resp.Embeddings, emb)
	}
	return resp, nil
}

func (s *stubEmbedder) Dimension() int   { return 3 }
func (s *stubEmbedder) Provider() string { return "stub" }
func (s *stubEmbedder) Model() string    { return "stub" }
func (s *stubEmbedder) Close() error     { return nil }

// fixedReranker returns a predetermined ranking.
type fixedReranker struct {
	docs []reranker.RankedDoc
}

func (f fixedReranker) Rerank(context.Context, string, []string, int) ([]reranker.RankedDoc, error) {
	return f.docs, nil
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	rows := []vectorstore.Row{
		{
			ID:           "src/auth.ts:1-40",
			Vector:       []float32{1, 0, 0},
			Content:      "function validateToken(token: string) { return token.length > 0; }",
			FilePath:     "/work/proj/src/auth.ts",
			RelativePath: "src/auth.ts",
			StartLine:    1,
			EndLine:      40,
			Language:     "typescript",
			ChunkType:    "function",
			Symbols:      []string{"validateToken"},
		},
		{
			ID:           "src/cache.ts:1-30",
			Vector:       []float32{0.9, 0.1, 0},
			Content:      "class LruCache { evict() {} }",
			FilePath:     "/work/proj/src/cache.ts",
			RelativePath: "src/cache.ts",
			StartLine:    1,
			EndLine:      30,
			Language:     "typescript",
			ChunkType:    "class",
			Symbols:      []string{"LruCache"},
		},
		{
			ID:           "src/wire.ts:1-25",
			Vector:       []float32{0, 1, 0},
			Content:      "function encodeFrame(buf: Buffer) { return buf; }",
			FilePath:     "/work/proj/src/wire.ts",
			RelativePath: "src/wire.ts",
			StartLine:    1,
			EndLine:      25,
			Language:     "typescript",
			ChunkType:    "function",
			Symbols:      []string{"encodeFrame"},
		},
	}
	require.NoError(t, store.Upsert(context.Background(), testNamespace, rows))
	return store
}

func newTestSearcher(store vectorstore.Store, emb embedder.Embedder, rr reranker.Reranker) *Searcher {
	return New(store, emb, nil, rr, DefaultConfig(), nil)
}

func TestSearch_EmptyQuery(t *testing.T) {
	s := newTestSearcher(seedStore(t), &stubEmbedder{def: []float32{1, 0, 0}}, reranker.Nop{})

	resp, err := s.Search(context.Background(), Request{Query: "   ", Namespace: testNamespace})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, resp.Matches)
}

func TestSearch_NotIndexed(t *testing.T) {
	s := newTestSearcher(memory.New(), &stubEmbedder{def: []float32{1, 0, 0}}, reranker.Nop{})

	resp, err := s.Search(context.Background(), Request{Query: "anything", Namespace: "never-indexed"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "never-indexed")
}

func TestSearch_Semantic(t *testing.T) {
	emb := &stubEmbedder{
		vectors: map[string][]float32{"token validation": {1, 0, 0}},
		def:     []float32{1, 0, 0},
	}
	s := newTestSearcher(seedStore(t), emb, reranker.Nop{})

	resp, err := s.Search(context.Background(), Request{
		Query:     "token validation",
		Namespace: testNamespace,
		Strategy:  StrategySemantic,
		Limit:     5,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Matches)

	assert.Equal(t, "src/auth.ts:1-40", resp.Matches[0].Chunk.ID)
	assert.Equal(t, types.MatchTypeSemantic, resp.Matches[0].MatchType)
	assert.Equal(t, StrategySemantic, resp.Metadata.Strategy)
	assert.Greater(t, resp.Metadata.VectorCandidates, 0)

	// The orthogonal row never outranks the aligned ones.
	for i := 1; i < len(resp.Matches); i++ {
		assert.LessOrEqual(t, resp.Matches[i].Score, resp.Matches[0].Score)
	}
}

func TestSearch_Hybrid(t *testing.T) {
	emb := &stubEmbedder{
		vectors: map[string][]float32{"encodeFrame buffer": {0, 1, 0}},
		def:     []float32{0, 1, 0},
	}
	s := newTestSearcher(seedStore(t), emb, reranker.Nop{})

	resp, err := s.Search(context.Background(), Request{
		Query:     "encodeFrame buffer",
		Namespace: testNamespace,
		Strategy:  StrategyHybrid,
		Limit:     5,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Matches)

	// Vector and lexical retrieval agree on the wire codec chunk.
	assert.Equal(t, "src/wire.ts:1-25", resp.Matches[0].Chunk.ID)
	assert.Greater(t, resp.Metadata.VectorCandidates, 0)
	assert.Greater(t, resp.Metadata.LexicalCandidates, 0)
}

func TestSearch_MinScoreFilter(t *testing.T) {
	emb := &stubEmbedder{def: []float32{1, 0, 0}}
	s := newTestSearcher(seedStore(t), emb, reranker.Nop{})

	resp, err := s.Search(context.Background(), Request{
		Query:     "token validation",
		Namespace: testNamespace,
		Strategy:  StrategySemantic,
		Limit:     5,
		MinScore:  0.999,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "src/auth.ts:1-40", resp.Matches[0].Chunk.ID)
}

func TestSearch_FileFilter(t *testing.T) {
	emb := &stubEmbedder{def: []float32{1, 0, 0}}
	s := newTestSearcher(seedStore(t), emb, reranker.Nop{})

	resp, err := s.Search(context.Background(), Request{
		Query:      "anything at all",
		Namespace:  testNamespace,
		Strategy:   StrategySemantic,
		Limit:      5,
		FileFilter: "src/cache.ts",
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "src/cache.ts", resp.Matches[0].Chunk.RelativePath)
}

func TestSearch_StructuralWithoutSymbolStore(t *testing.T) {
	emb := &stubEmbedder{def: []float32{1, 0, 0}}
	s := newTestSearcher(seedStore(t), emb, reranker.Nop{})

	resp, err := s.Search(context.Background(), Request{
		Query:     "validateToken()",
		Namespace: testNamespace,
		Strategy:  StrategyStructural,
		Limit:     5,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Matches)
	assert.Greater(t, resp.Metadata.VectorCandidates, 0)
}

func TestSearch_RerankFallback(t *testing.T) {
	emb := &stubEmbedder{def: []float32{0.8, 0.6, 0}}
	s := newTestSearcher(seedStore(t), emb, reranker.Nop{})

	resp, err := s.Search(context.Background(), Request{
		Query:     "token validation",
		Namespace: testNamespace,
		Strategy:  StrategySemantic,
		Limit:     5,
		Rerank:    true,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Greater(t, len(resp.Matches), 1)

	// The reranker declined; original order and scores stand.
	assert.False(t, resp.Metadata.Reranked)
	for i := 1; i < len(resp.Matches); i++ {
		assert.False(t, resp.Matches[i].Reranked)
		assert.LessOrEqual(t, resp.Matches[i].Score, resp.Matches[i-1].Score)
	}
}

func TestSearch_Rerank(t *testing.T) {
	emb := &stubEmbedder{def: []float32{0.8, 0.6, 0}}
	rr := fixedReranker{docs: []reranker.RankedDoc{
		{Index: 1, Score: 0.95},
		{Index: 0, Score: 0.30},
	}}
	s := newTestSearcher(seedStore(t), emb, rr)

	resp, err := s.Search(context.Background(), Request{
		Query:     "token validation",
		Namespace: testNamespace,
		Strategy:  StrategySemantic,
		Limit:     2,
		Rerank:    true,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Matches, 2)

	assert.True(t, resp.Metadata.Reranked)
	first := resp.Matches[0]
	assert.True(t, first.Reranked)
	assert.Equal(t, 0.95, first.Score)
	assert.Equal(t, 0.95, first.RerankScore)
	assert.Greater(t, first.OriginalScore, 0.0)
	assert.NotEqual(t, first.OriginalScore, first.Score)
}

func TestSearch_CacheHitAndInvalidate(t *testing.T) {
	emb := &stubEmbedder{def: []float32{1, 0, 0}}
	s := newTestSearcher(seedStore(t), emb, reranker.Nop{})

	req := Request{
		Query:     "token validation",
		Namespace: testNamespace,
		Strategy:  StrategySemantic,
		Limit:     5,
		UseCache:  true,
	}

	first, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Metadata.CacheHit)

	second, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, len(first.Matches), len(second.Matches))

	s.Invalidate()

	third, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, third.Metadata.CacheHit)
}

func TestSearch_EmptyResultSuggestions(t *testing.T) {
	emb := &stubEmbedder{def: []float32{-1, 0, 0}}
	s := newTestSearcher(seedStore(t), emb, reranker.Nop{})

	// An anti-aligned query vector scores nothing above zero.
	resp, err := s.Search(context.Background(), Request{
		Query:     "function that does nothing here",
		Namespace: testNamespace,
		Strategy:  StrategySemantic,
		Limit:     5,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Matches)
	assert.NotEmpty(t, resp.Suggestions)
}

func TestSearch_AnnotatesRelatedBySymbol(t *testing.T) {
	store := memory.New()
	rows := []vectorstore.Row{
		{
			ID: "src/a.ts:1-10", Vector: []float32{1, 0, 0},
			Content: "function shared() {}", FilePath: "/w/src/a.ts", RelativePath: "src/a.ts",
			StartLine: 1, EndLine: 10, Symbols: []string{"shared"},
		},
		{
			ID: "src/b.ts:1-10", Vector: []float32{0.9, 0.1, 0},
			Content: "shared();", FilePath: "/w/src/b.ts", RelativePath: "src/b.ts",
			StartLine: 1, EndLine: 10, Symbols: []string{"shared"},
		},
	}
	require.NoError(t, store.Upsert(context.Background(), testNamespace, rows))

	s := newTestSearcher(store, &stubEmbedder{def: []float32{1, 0, 0}}, reranker.Nop{})

	resp, err := s.Search(context.Background(), Request{
		Query:     "shared helper",
		Namespace: testNamespace,
		Strategy:  StrategySemantic,
		Limit:     5,
	})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 2)
	assert.Contains(t, resp.Matches[0].RelatedMatches, resp.Matches[1].Chunk.ID)
	assert.Contains(t, resp.Matches[1].RelatedMatches, resp.Matches[0].Chunk.ID)
}

func TestBoostedScore(t *testing.T) {
	// Plain scaling below the organic top.
	assert.InDelta(t, 0.3, boostedScore(0.6, 0.9, 0.5), 1e-9)
	// A would-be overtake is recapped below the top score.
	assert.InDelta(t, 0.35, boostedScore(2.0, 0.7, 0.5), 1e-9)
	// Never reaches 1.0.
	assert.InDelta(t, 0.99, boostedScore(3.0, 0, 0.5), 1e-9)
}

func TestMergeByID_KeepsMaxScore(t *testing.T) {
	a := []types.SearchMatch{
		newSpanMatch("x", "a.ts", 1, 10, 0.5),
		newSpanMatch("y", "b.ts", 1, 10, 0.4),
	}
	b := []types.SearchMatch{
		{Chunk: types.Chunk{ID: "x", RelativePath: "a.ts", StartLine: 1, EndLine: 10}, Score: 0.9, MatchType: types.MatchTypeSymbol},
		newSpanMatch("z", "c.ts", 1, 10, 0.1),
	}

	out := mergeByID(a, b)
	require.Len(t, out, 3)
	assert.Equal(t, "x", out[0].Chunk.ID)
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, types.MatchTypeSymbol, out[0].MatchType)
	assert.Equal(t, "y", out[1].Chunk.ID)
	assert.Equal(t, "z", out[2].Chunk.ID)
}
