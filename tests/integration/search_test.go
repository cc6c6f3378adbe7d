package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/codemapper/codemap-mcp/internal/embedder"
	"github.com/codemapper/codemap-mcp/internal/extractor"
	"github.com/codemapper/codemap-mcp/internal/indexer"
	"github.com/codemapper/codemap-mcp/internal/lang"
	"github.com/codemapper/codemap-mcp/internal/reranker"
	"github.com/codemapper/codemap-mcp/internal/searcher"
	"github.com/codemapper/codemap-mcp/internal/subchunk"
	"github.com/codemapper/codemap-mcp/internal/symstore"
	"github.com/codemapper/codemap-mcp/internal/tracker"
	"github.com/codemapper/codemap-mcp/internal/vectorstore/memory"
	"github.com/codemapper/codemap-mcp/pkg/types"
)

// SearchSuite indexes the fixture codebase once per test and runs searches
// against it end to end: extraction, embedding, upload, and retrieval.
type SearchSuite struct {
	suite.Suite
	ctx         context.Context
	store       *memory.Store
	symbols     *symstore.Store
	indexer     *indexer.Indexer
	searcher    *searcher.Searcher
	fixturesDir string
	namespace   string
}

func (s *SearchSuite) SetupSuite() {
	wd, err := os.Getwd()
	s.Require().NoError(err)
	dir, err := filepath.Abs(filepath.Join(filepath.Dir(wd), "testdata", "fixtures"))
	s.Require().NoError(err)
	s.fixturesDir = dir
	s.namespace = tracker.NamespaceFor(dir)
	s.ctx = context.Background()
}

func (s *SearchSuite) SetupTest() {
	dataDir := s.T().TempDir()

	emb, err := embedder.NewLocalProvider(nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = emb.Close() })

	symbols, err := symstore.New(filepath.Join(dataDir, "symbols.db"))
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = symbols.Close() })
	s.symbols = symbols

	snapshots, err := tracker.NewStore(filepath.Join(dataDir, "snapshots"), nil)
	s.Require().NoError(err)
	registry := tracker.NewRegistry(dataDir)
	s.Require().NoError(registry.Load())
	locks, err := tracker.NewLockManager(filepath.Join(dataDir, "locks"), tracker.DefaultLockStaleAfter, nil)
	s.Require().NoError(err)

	languages := lang.Default()
	s.store = memory.New()

	cfg := indexer.DefaultConfig()
	cfg.UploadBatchDelay = 0

	s.indexer = indexer.New(indexer.Deps{
		Extractor: extractor.New(languages, extractor.DefaultConfig(), nil),
		Splitter:  subchunk.New(subchunk.DefaultConfig()),
		Embedder:  emb,
		Store:     s.store,
		Symbols:   symbols,
		Snapshots: snapshots,
		Registry:  registry,
		Locks:     locks,
		Languages: languages,
	}, cfg, nil)
	s.searcher = searcher.New(s.store, emb, symbols, reranker.Nop{}, searcher.DefaultConfig(), nil)

	res, err := s.indexer.Index(s.ctx, indexer.Request{CodebasePath: s.fixturesDir})
	s.Require().NoError(err)
	s.Require().True(res.Success)
	s.Require().Equal(4, res.FilesIndexed)
	s.Require().Empty(res.Errors)
}

func (s *SearchSuite) search(req searcher.Request) *searcher.Response {
	req.Namespace = s.namespace
	resp, err := s.searcher.Search(s.ctx, req)
	s.Require().NoError(err)
	return resp
}

func (s *SearchSuite) TestHybridSearchFindsTokenValidation() {
	resp := s.search(searcher.Request{
		Query:    "validateToken segments",
		Strategy: searcher.StrategyHybrid,
	})

	s.Require().True(resp.Success)
	s.Require().NotEmpty(resp.Matches)
	s.Greater(resp.Metadata.LexicalCandidates, 0)

	var paths []string
	for _, m := range resp.Matches {
		paths = append(paths, m.Chunk.RelativePath)
	}
	s.Contains(paths, "auth.ts")
}

func (s *SearchSuite) TestStructuralSearchResolvesSymbols() {
	resp := s.search(searcher.Request{
		Query:    "function createSession",
		Strategy: searcher.StrategyStructural,
	})

	s.Require().True(resp.Success)
	s.Require().NotEmpty(resp.Matches)
	s.Equal("session.ts", resp.Matches[0].Chunk.RelativePath)
	s.Equal(types.MatchTypeSymbol, resp.Matches[0].MatchType)
}

func (s *SearchSuite) TestFileFilter() {
	resp := s.search(searcher.Request{
		Query:      "cache capacity evict",
		Strategy:   searcher.StrategyHybrid,
		FileFilter: "cache.py",
	})

	s.Require().True(resp.Success)
	s.Require().NotEmpty(resp.Matches)
	for _, m := range resp.Matches {
		s.Equal("cache.py", m.Chunk.RelativePath)
	}
}

func (s *SearchSuite) TestUnindexedNamespaceIsStructuredFailure() {
	resp, err := s.searcher.Search(s.ctx, searcher.Request{
		Query:     "anything",
		Namespace: "never-indexed-000000000000",
	})
	s.Require().NoError(err)
	s.False(resp.Success)
	s.Contains(resp.Error, "never-indexed-000000000000")
}

func (s *SearchSuite) TestSecondRunIsIncrementalNoop() {
	before := s.store.Len(s.namespace)

	res, err := s.indexer.Index(s.ctx, indexer.Request{CodebasePath: s.fixturesDir})
	s.Require().NoError(err)
	s.True(res.Success)
	s.Equal("incremental", res.Mode)
	s.Zero(res.FilesIndexed)
	s.Equal(4, res.FilesUnchanged)
	s.Equal(before, s.store.Len(s.namespace))
}

func (s *SearchSuite) TestStatusReflectsIndex() {
	status, err := s.indexer.Status(s.fixturesDir)
	s.Require().NoError(err)
	s.True(status.Indexed)
	s.Equal(4, status.TotalFiles)
	s.Greater(status.TotalChunks, 0)
	s.False(status.InProgress)
}

func TestSearchSuite(t *testing.T) {
	suite.Run(t, new(SearchSuite))
}
