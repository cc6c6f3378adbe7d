// Package searcher coordinates hybrid retrieval: vector and lexical queries
// against the vector store, reciprocal-rank fusion, span deduplication,
// dependency expansion, and optional reranking.
package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/codemapper/codemap-mcp/internal/embedder"
	"github.com/codemapper/codemap-mcp/internal/reranker"
	"github.com/codemapper/codemap-mcp/internal/symstore"
	"github.com/codemapper/codemap-mcp/internal/vectorstore"
	"github.com/codemapper/codemap-mcp/pkg/types"
)

// Strategy selects how candidates are retrieved
type Strategy string

const (
	StrategySemantic   Strategy = "semantic"   // Vector similarity only
	StrategyHybrid     Strategy = "hybrid"     // Vector + lexical with RRF
	StrategyStructural Strategy = "structural" // Symbol-name driven
)

// DefaultCacheTTL bounds how long a cached response stays valid
const DefaultCacheTTL = 5 * time.Minute

const rerankDocLimit = 2000

// Request contains parameters for a search operation
type Request struct {
	Query     string
	Namespace string
	Limit     int
	MinScore  float64
	Strategy  Strategy

	// FileFilter restricts matches to one relative path; SymbolKinds
	// restricts the structural strategy's symbol kinds.
	FileFilter  string
	SymbolKinds []string

	ExpandDependencies bool
	Rerank             bool

	UseCache bool
	CacheTTL time.Duration
}

// Metadata describes how a response was produced
type Metadata struct {
	Strategy          Strategy      `json:"strategy"`
	Intent            Intent        `json:"intent"`
	Duration          time.Duration `json:"duration"`
	CacheHit          bool          `json:"cacheHit"`
	VectorCandidates  int           `json:"vectorCandidates"`
	LexicalCandidates int           `json:"lexicalCandidates"`
	Expanded          int           `json:"expanded"`
	Reranked          bool          `json:"reranked"`
}

// Response is the structured search outcome. Expected failure modes (empty
// query, un-indexed namespace) come back as Success=false with an empty match
// list, not as an error.
type Response struct {
	Success     bool                `json:"success"`
	Error       string              `json:"error,omitempty"`
	Matches     []types.SearchMatch `json:"matches"`
	Suggestions []string            `json:"suggestions,omitempty"`
	Metadata    Metadata            `json:"metadata"`
}

// Config tunes retrieval and fusion
type Config struct {
	Fusion FusionConfig

	// SymbolWeight scales symbol-search scores merged into hybrid results
	SymbolWeight float64
	// DependencyBoost scales scores of dependency-expanded matches; the
	// result is always capped below 1.0
	DependencyBoost float64

	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig returns the default searcher configuration
func DefaultConfig() Config {
	return Config{
		Fusion:          DefaultFusionConfig(),
		SymbolWeight:    0.3,
		DependencyBoost: 0.5,
		CacheSize:       1000,
		CacheTTL:        DefaultCacheTTL,
	}
}

type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher coordinates search across the vector store and the symbol store
type Searcher struct {
	store    vectorstore.Store
	embedder embedder.Embedder
	symbols  *symstore.Store
	reranker reranker.Reranker
	cfg      Config
	cache    *lru.Cache[[32]byte, *cacheEntry]
	log      *zap.Logger
}

// New creates a Searcher. The symbol store and reranker are optional; without
// them the structural strategy degrades to semantic and reranking is skipped.
func New(store vectorstore.Store, emb embedder.Embedder, symbols *symstore.Store, rr reranker.Reranker, cfg Config, log *zap.Logger) *Searcher {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.SymbolWeight <= 0 {
		cfg.SymbolWeight = 0.3
	}
	if cfg.DependencyBoost <= 0 {
		cfg.DependencyBoost = 0.5
	}
	cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
	if err != nil {
		// Only reachable with a non-positive size, which we just corrected
		panic(fmt.Sprintf("create query cache: %v", err))
	}
	return &Searcher{
		store:    store,
		embedder: emb,
		symbols:  symbols,
		reranker: rr,
		cfg:      cfg,
		cache:    cache,
		log:      log,
	}
}

// Search runs one retrieval request. Unexpected failures (store or embedder
// errors) return an error; expected ones return a failure Response.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return failure(types.ErrEmptyQuery.Error()), nil
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Strategy == "" {
		req.Strategy = StrategyHybrid
	}

	if req.UseCache {
		if cached, ok := s.checkCache(req); ok {
			cached.Metadata.CacheHit = true
			cached.Metadata.Duration = time.Since(start)
			return cached, nil
		}
	}

	exists, err := s.store.NamespaceExists(ctx, req.Namespace)
	if err != nil {
		return nil, fmt.Errorf("check namespace: %w", err)
	}
	if !exists {
		return failure(fmt.Sprintf("%s: %s", types.ErrNotIndexed.Error(), req.Namespace)), nil
	}

	intent := ClassifyIntent(req.Query)
	if len(req.SymbolKinds) == 0 {
		req.SymbolKinds = SymbolKindsFor(intent)
	}

	resp := &Response{Success: true, Metadata: Metadata{Strategy: req.Strategy, Intent: intent}}

	var matches []types.SearchMatch
	switch req.Strategy {
	case StrategySemantic:
		matches, err = s.semanticSearch(ctx, req, &resp.Metadata)
	case StrategyStructural:
		matches, err = s.structuralSearch(ctx, req, &resp.Metadata)
	case StrategyHybrid:
		matches, err = s.hybridSearch(ctx, req, &resp.Metadata)
	default:
		return failure(fmt.Sprintf("unsupported strategy: %s", req.Strategy)), nil
	}
	if err != nil {
		if errors.Is(err, vectorstore.ErrNamespaceNotFound) {
			return failure(fmt.Sprintf("%s: %s", types.ErrNotIndexed.Error(), req.Namespace)), nil
		}
		return nil, err
	}

	matches = filterMinScore(matches, req.MinScore)
	matches = truncateMatches(matches, req.Limit)

	if req.ExpandDependencies && s.symbols != nil && len(matches) > 0 && len(matches) < req.Limit {
		expanded, expErr := s.expandDependencies(ctx, req, matches)
		if expErr != nil {
			s.log.Warn("dependency expansion failed", zap.Error(expErr))
		} else {
			resp.Metadata.Expanded = len(expanded)
			matches = append(matches, expanded...)
			matches = truncateMatches(matches, req.Limit)
		}
	}

	if req.Rerank && s.reranker != nil && len(matches) > 1 {
		matches = s.rerank(ctx, req.Query, matches, &resp.Metadata)
	}

	annotateRelated(matches)

	resp.Matches = matches
	if len(matches) == 0 {
		resp.Suggestions = Suggestions(intent, req.Query)
	}
	resp.Metadata.Duration = time.Since(start)

	if req.UseCache && len(matches) > 0 {
		s.storeInCache(req, resp)
	}
	return resp, nil
}

// Invalidate drops all cached responses; called after a re-index
func (s *Searcher) Invalidate() {
	s.cache.Purge()
}

func failure(msg string) *Response {
	return &Response{Success: false, Error: msg, Matches: []types.SearchMatch{}}
}

// semanticSearch embeds the query and retrieves by vector similarity
func (s *Searcher) semanticSearch(ctx context.Context, req Request, meta *Metadata) ([]types.SearchMatch, error) {
	vector, err := s.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.Query(ctx, req.Namespace, vectorstore.Query{
		Vector:  vector,
		Limit:   req.Limit * 2,
		Filters: fileFilter(req),
	})
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	meta.VectorCandidates = len(rows)

	matches := make([]types.SearchMatch, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, rowToMatch(row, types.MatchTypeSemantic))
	}
	return matches, nil
}

// structuralSearch retrieves by identifier tokens extracted from the query,
// falling back to semantic when none are present
func (s *Searcher) structuralSearch(ctx context.Context, req Request, meta *Metadata) ([]types.SearchMatch, error) {
	idents := ExtractIdentifiers(req.Query)
	if len(idents) == 0 || s.symbols == nil {
		return s.semanticSearch(ctx, req, meta)
	}

	matches, err := s.symbolSearch(ctx, req, idents, 1.0)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return s.semanticSearch(ctx, req, meta)
	}
	sortMatches(matches)
	return matches, nil
}

// hybridSearch fuses the store's vector and lexical lists; identifier hits
// from the symbol store merge in at a lower weight
func (s *Searcher) hybridSearch(ctx context.Context, req Request, meta *Metadata) ([]types.SearchMatch, error) {
	vector, err := s.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	result, err := s.store.HybridQuery(ctx, req.Namespace, vectorstore.HybridQuery{
		Vector: vector,
		Text:   req.Query,
		Limit:  req.Limit * 2,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid query: %w", err)
	}
	meta.VectorCandidates = len(result.VectorRows)
	meta.LexicalCandidates = len(result.LexicalRows)

	matches := FuseRRF(result.VectorRows, result.LexicalRows, s.cfg.Fusion)

	if idents := ExtractIdentifiers(req.Query); len(idents) > 0 && s.symbols != nil {
		symMatches, symErr := s.symbolSearch(ctx, req, idents, s.cfg.SymbolWeight)
		if symErr != nil {
			s.log.Warn("symbol search failed", zap.Error(symErr))
		} else {
			matches = mergeByID(matches, symMatches)
		}
	}

	if req.FileFilter != "" {
		matches = filterByFile(matches, req.FileFilter)
	}
	return matches, nil
}

// symbolSearch resolves identifiers through the symbol store, then fetches
// chunks from the matching files
func (s *Searcher) symbolSearch(ctx context.Context, req Request, idents []string, weight float64) ([]types.SearchMatch, error) {
	seen := make(map[string]bool)
	var matches []types.SearchMatch

	for _, ident := range idents {
		rows, err := s.symbols.SearchSymbols(ctx, req.Namespace, ident, req.SymbolKinds, req.Limit)
		if err != nil {
			return nil, fmt.Errorf("symbol lookup %q: %w", ident, err)
		}
		for _, sym := range rows {
			if req.FileFilter != "" && sym.FilePath != req.FileFilter {
				continue
			}
			if seen[sym.FilePath] {
				continue
			}
			seen[sym.FilePath] = true

			chunks, err := s.store.Query(ctx, req.Namespace, vectorstore.Query{
				Text:    ident,
				Limit:   3,
				Filters: map[string]string{"relative_path": sym.FilePath},
			})
			if err != nil {
				return nil, fmt.Errorf("chunk lookup for %s: %w", sym.FilePath, err)
			}
			for _, row := range chunks {
				m := rowToMatch(row, types.MatchTypeSymbol)
				m.Score = row.Score * weight
				matches = append(matches, m)
			}
		}
	}

	return dedupeByIDMax(matches), nil
}

// expandDependencies pulls in chunks from files connected to current matches
// through the import graph
func (s *Searcher) expandDependencies(ctx context.Context, req Request, matches []types.SearchMatch) ([]types.SearchMatch, error) {
	present := make(map[string]bool, len(matches))
	matchedFiles := make(map[string]bool)
	var topScore float64
	for _, m := range matches {
		present[m.Chunk.ID] = true
		matchedFiles[m.Chunk.RelativePath] = true
		if m.Score > topScore {
			topScore = m.Score
		}
	}

	terms := collectSymbolNames(matches)
	if terms == "" {
		terms = req.Query
	}

	var expanded []types.SearchMatch
	budget := req.Limit - len(matches)

	for _, m := range matches {
		if budget <= 0 {
			break
		}
		related, err := s.symbols.RelatedFiles(ctx, req.Namespace, m.Chunk.RelativePath)
		if err != nil {
			return nil, err
		}
		for _, file := range related {
			if budget <= 0 {
				break
			}
			if matchedFiles[file] {
				continue
			}
			matchedFiles[file] = true

			rows, err := s.store.Query(ctx, req.Namespace, vectorstore.Query{
				Text:    terms,
				Limit:   2,
				Filters: map[string]string{"relative_path": file},
			})
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				if budget <= 0 {
					break
				}
				if present[row.ID] {
					continue
				}
				present[row.ID] = true

				dep := rowToMatch(row, types.MatchTypeDependency)
				dep.Score = boostedScore(row.Score, topScore, s.cfg.DependencyBoost)
				expanded = append(expanded, dep)
				budget--
			}
		}
	}
	return expanded, nil
}

// boostedScore keeps expanded matches below both the top organic score and
// 1.0
func boostedScore(score, topScore, boost float64) float64 {
	out := score * boost
	if topScore > 0 && out >= topScore {
		out = topScore * boost
	}
	if out >= 1.0 {
		out = 0.99
	}
	return out
}

// rerank re-scores matches with the external cross-encoder. Failure falls
// back to the existing ordering.
func (s *Searcher) rerank(ctx context.Context, query string, matches []types.SearchMatch, meta *Metadata) []types.SearchMatch {
	docs := make([]string, len(matches))
	for i, m := range matches {
		content := m.Chunk.Content
		if len(content) > rerankDocLimit {
			content = content[:rerankDocLimit]
		}
		docs[i] = content
	}

	ranked, err := s.reranker.Rerank(ctx, query, docs, len(docs))
	if err != nil {
		s.log.Warn("rerank failed, keeping original order", zap.Error(err))
		return matches
	}

	out := make([]types.SearchMatch, 0, len(ranked))
	for _, doc := range ranked {
		m := matches[doc.Index]
		m.OriginalScore = m.Score
		m.RerankScore = doc.Score
		m.Score = doc.Score
		m.Reranked = true
		out = append(out, m)
	}
	// The service may return fewer docs than asked; keep the stragglers in
	// their original order.
	if len(out) < len(matches) {
		returned := make(map[int]bool, len(ranked))
		for _, doc := range ranked {
			returned[doc.Index] = true
		}
		for i, m := range matches {
			if !returned[i] {
				out = append(out, m)
			}
		}
	}
	meta.Reranked = true
	return out
}

func (s *Searcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if len(query) > embedder.MaxInputChars {
		query = query[:embedder.MaxInputChars]
	}
	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return emb.Vector, nil
}

// annotateRelated links matches that share a file or a symbol name
func annotateRelated(matches []types.SearchMatch) {
	for i := range matches {
		names := make(map[string]bool, len(matches[i].Chunk.Symbols))
		for _, sym := range matches[i].Chunk.Symbols {
			names[sym.Name] = true
		}
		for j := range matches {
			if i == j {
				continue
			}
			if matches[i].Chunk.RelativePath == matches[j].Chunk.RelativePath {
				matches[i].RelatedMatches = append(matches[i].RelatedMatches, matches[j].Chunk.ID)
				continue
			}
			for _, sym := range matches[j].Chunk.Symbols {
				if names[sym.Name] {
					matches[i].RelatedMatches = append(matches[i].RelatedMatches, matches[j].Chunk.ID)
					break
				}
			}
		}
	}
}

func collectSymbolNames(matches []types.SearchMatch) string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range matches {
		for _, sym := range m.Chunk.Symbols {
			if !seen[sym.Name] {
				seen[sym.Name] = true
				names = append(names, sym.Name)
			}
		}
	}
	return strings.Join(names, " ")
}

func rowToMatch(row vectorstore.ScoredRow, matchType types.MatchType) types.SearchMatch {
	chunk := types.Chunk{
		ID:           row.ID,
		Content:      row.Content,
		Size:         len(row.Content),
		FilePath:     row.FilePath,
		RelativePath: row.RelativePath,
		StartLine:    row.StartLine,
		EndLine:      row.EndLine,
		Language:     row.Language,
		ChunkType:    types.ChunkType(row.ChunkType),
	}
	for _, name := range row.Symbols {
		chunk.Symbols = append(chunk.Symbols, types.Symbol{Name: name})
	}
	return types.SearchMatch{Chunk: chunk, Score: row.Score, MatchType: matchType}
}

func fileFilter(req Request) map[string]string {
	if req.FileFilter == "" {
		return nil
	}
	return map[string]string{"relative_path": req.FileFilter}
}

func filterByFile(matches []types.SearchMatch, file string) []types.SearchMatch {
	out := matches[:0]
	for _, m := range matches {
		if m.Chunk.RelativePath == file {
			out = append(out, m)
		}
	}
	return out
}

func filterMinScore(matches []types.SearchMatch, minScore float64) []types.SearchMatch {
	if minScore <= 0 {
		return matches
	}
	out := matches[:0]
	for _, m := range matches {
		if m.Score >= minScore {
			out = append(out, m)
		}
	}
	return out
}

// mergeByID merges two match lists, keeping the maximum score per chunk id
func mergeByID(a, b []types.SearchMatch) []types.SearchMatch {
	byID := make(map[string]int, len(a))
	out := make([]types.SearchMatch, 0, len(a)+len(b))
	for _, m := range a {
		byID[m.Chunk.ID] = len(out)
		out = append(out, m)
	}
	for _, m := range b {
		if i, ok := byID[m.Chunk.ID]; ok {
			if m.Score > out[i].Score {
				out[i].Score = m.Score
				out[i].MatchType = m.MatchType
			}
			continue
		}
		byID[m.Chunk.ID] = len(out)
		out = append(out, m)
	}
	sortMatches(out)
	return out
}

func dedupeByIDMax(matches []types.SearchMatch) []types.SearchMatch {
	return mergeByID(matches, nil)
}

func sortMatches(matches []types.SearchMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.ID < matches[j].Chunk.ID
	})
}

func truncateMatches(matches []types.SearchMatch, limit int) []types.SearchMatch {
	if limit > 0 && len(matches) > limit {
		return matches[:limit]
	}
	return matches
}

// Cache

func (s *Searcher) cacheKey(req Request) [32]byte {
	key := fmt.Sprintf("%s|%s|%d|%f|%s|%s|%s|%t|%t",
		req.Query, req.Namespace, req.Limit, req.MinScore, req.Strategy,
		req.FileFilter, strings.Join(req.SymbolKinds, ","),
		req.ExpandDependencies, req.Rerank)
	return sha256.Sum256([]byte(key))
}

func (s *Searcher) checkCache(req Request) (*Response, bool) {
	entry, ok := s.cache.Get(s.cacheKey(req))
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		s.cache.Remove(s.cacheKey(req))
		return nil, false
	}
	clone := *entry.response
	return &clone, true
}

func (s *Searcher) storeInCache(req Request, resp *Response) {
	ttl := req.CacheTTL
	if ttl <= 0 {
		ttl = s.cfg.CacheTTL
	}
	clone := *resp
	s.cache.Add(s.cacheKey(req), &cacheEntry{response: &clone, expiresAt: time.Now().Add(ttl)})
}
