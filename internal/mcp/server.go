// Package mcp exposes indexing and search as MCP tools over stdio.
package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/codemapper/codemap-mcp/internal/config"
	"github.com/codemapper/codemap-mcp/internal/embedder"
	"github.com/codemapper/codemap-mcp/internal/extractor"
	"github.com/codemapper/codemap-mcp/internal/indexer"
	"github.com/codemapper/codemap-mcp/internal/lang"
	"github.com/codemapper/codemap-mcp/internal/reranker"
	"github.com/codemapper/codemap-mcp/internal/searcher"
	"github.com/codemapper/codemap-mcp/internal/subchunk"
	"github.com/codemapper/codemap-mcp/internal/symstore"
	"github.com/codemapper/codemap-mcp/internal/tracker"
	"github.com/codemapper/codemap-mcp/internal/vectorstore"
)

const (
	// ServerName is the MCP server name
	ServerName = "codemap-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	symbols  *symstore.Store
	log      *zap.Logger
}

// NewServer wires all components from configuration
func NewServer(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	snapshots, err := tracker.NewStore(cfg.DataDir, log)
	if err != nil {
		return nil, fmt.Errorf("initialize snapshot store: %w", err)
	}
	registry := tracker.NewRegistry(cfg.DataDir)
	if err := registry.Load(); err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	locks, err := tracker.NewLockManager(filepath.Join(cfg.DataDir, "locks"), cfg.Indexer.LockStaleAfter, log)
	if err != nil {
		return nil, fmt.Errorf("initialize lock manager: %w", err)
	}

	symbols, err := symstore.New(filepath.Join(cfg.DataDir, "symbols.db"))
	if err != nil {
		return nil, fmt.Errorf("initialize symbol store: %w", err)
	}

	emb, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    os.Getenv("OPENAI_API_KEY"),
		Model:     cfg.Embedding.Model,
		CacheSize: cfg.Embedding.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize embedder: %w", err)
	}

	store := vectorstore.NewClient(vectorstore.ClientConfig{
		BaseURL: cfg.VectorStore.BaseURL,
		APIKey:  os.Getenv("CODEMAP_VECTOR_STORE_API_KEY"),
		Timeout: cfg.VectorStore.Timeout,
	}, log)

	var rr reranker.Reranker = reranker.Nop{}
	if cfg.Reranker.Enabled && cfg.Reranker.BaseURL != "" {
		rr = reranker.NewClient(reranker.ClientConfig{
			BaseURL: cfg.Reranker.BaseURL,
			APIKey:  os.Getenv("CODEMAP_RERANKER_API_KEY"),
			Model:   cfg.Reranker.Model,
		})
	}

	languages := lang.Default()
	ext := extractor.New(languages, extractor.Config{
		MinChunkSize:  cfg.Extractor.MinChunkSize,
		MaxChunkSize:  cfg.Extractor.MaxChunkSize,
		MergeGap:      cfg.Extractor.MergeGap,
		FallbackLines: cfg.Extractor.FallbackLines,
		WindowSize:    cfg.Extractor.WindowSize,
		WindowOverlap: cfg.Extractor.WindowOverlap,
	}, log)
	splitter := subchunk.New(subchunk.Config{MaxChunkSize: cfg.Extractor.MaxChunkSize})

	idx := indexer.New(indexer.Deps{
		Extractor: ext,
		Splitter:  splitter,
		Embedder:  emb,
		Store:     store,
		Symbols:   symbols,
		Snapshots: snapshots,
		Registry:  registry,
		Locks:     locks,
		Languages: languages,
	}, indexer.Config{
		Concurrency:       cfg.Indexer.Concurrency,
		UploadBatchSize:   cfg.Indexer.UploadBatchSize,
		UploadBatchDelay:  cfg.Indexer.UploadBatchDelay,
		HashRecheckWindow: cfg.Indexer.HashRecheckWindow,
		MaxChunkSize:      cfg.Extractor.MaxChunkSize,
	}, log)

	srch := searcher.New(store, emb, symbols, rr, searcher.Config{
		Fusion: searcher.FusionConfig{
			K:                cfg.Search.RRFK,
			Scale:            cfg.Search.RRFScale,
			VectorWeight:     cfg.Search.VectorWeight,
			LexicalWeight:    cfg.Search.LexicalWeight,
			OverlapThreshold: cfg.Search.OverlapThreshold,
		},
		SymbolWeight:    cfg.Search.SymbolWeight,
		DependencyBoost: cfg.Search.DependencyBoost,
		CacheSize:       cfg.Search.CacheSize,
		CacheTTL:        cfg.Search.CacheTTL,
	}, log)

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		indexer:  idx,
		searcher: srch,
		symbols:  symbols,
		log:      log,
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.symbols.Close() }()
	return server.ServeStdio(s.mcp)
}

// Indexer exposes the wired indexer for CLI reuse
func (s *Server) Indexer() *indexer.Indexer { return s.indexer }

// Searcher exposes the wired searcher for CLI reuse
func (s *Server) Searcher() *searcher.Searcher { return s.searcher }

// Close releases resources without serving
func (s *Server) Close() error { return s.symbols.Close() }

func (s *Server) registerTools() {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
