// Package indexer orchestrates one indexing run: change detection against
// the prior snapshot, concurrent chunk extraction, batched embedding and
// upload, and the atomic snapshot rewrite at the end.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codemapper/codemap-mcp/internal/embedder"
	"github.com/codemapper/codemap-mcp/internal/extractor"
	"github.com/codemapper/codemap-mcp/internal/lang"
	"github.com/codemapper/codemap-mcp/internal/subchunk"
	"github.com/codemapper/codemap-mcp/internal/symstore"
	"github.com/codemapper/codemap-mcp/internal/tracker"
	"github.com/codemapper/codemap-mcp/internal/vectorstore"
	"github.com/codemapper/codemap-mcp/pkg/types"
)

// Config contains configuration for indexing runs
type Config struct {
	Concurrency       int           // Concurrent file extractions (default: NumCPU)
	UploadBatchSize   int           // Chunks per embed/upsert batch
	UploadBatchDelay  time.Duration // Pause between batches for external rate limits
	HashRecheckWindow time.Duration // Content re-hash window for change detection
	MaxChunkSize      int           // Chunks above this are routed to the sub-chunker
}

// DefaultConfig returns the default indexing parameters
func DefaultConfig() Config {
	return Config{
		Concurrency:       runtime.NumCPU(),
		UploadBatchSize:   30,
		UploadBatchDelay:  200 * time.Millisecond,
		HashRecheckWindow: tracker.DefaultHashRecheckWindow,
		MaxChunkSize:      2000,
	}
}

// Deps are the collaborators an Indexer drives
type Deps struct {
	Extractor *extractor.Extractor
	Splitter  *subchunk.Splitter
	Embedder  embedder.Embedder
	Store     vectorstore.Store
	Symbols   *symstore.Store // optional
	Snapshots *tracker.Store
	Registry  *tracker.Registry
	Locks     *tracker.LockManager
	Languages *lang.Registry
}

// Request describes one indexing run
type Request struct {
	CodebasePath string
	Force        bool // Bypass change detection and re-process everything
}

// Result is the structured outcome of an indexing run. Partial failure is
// reported through Errors; the run still succeeds for the files that worked.
type Result struct {
	Success        bool              `json:"success"`
	AlreadyRunning bool              `json:"alreadyRunning,omitempty"`
	Message        string            `json:"message,omitempty"`
	OperationID    string            `json:"operationId"`
	Namespace      string            `json:"namespace"`
	Mode           string            `json:"mode"` // full or incremental
	FilesIndexed   int               `json:"filesIndexed"`
	FilesUnchanged int               `json:"filesUnchanged"`
	FilesDeleted   int               `json:"filesDeleted"`
	ChunksCreated  int               `json:"chunksCreated"`
	ChunksDeleted  int               `json:"chunksDeleted"`
	Errors         []types.FileError `json:"errors,omitempty"`
	Duration       time.Duration     `json:"duration"`
}

// Indexer coordinates indexing runs for codebases
type Indexer struct {
	deps Deps
	cfg  Config
	log  *zap.Logger
}

// New creates an Indexer
func New(deps Deps, cfg Config, log *zap.Logger) *Indexer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.UploadBatchSize <= 0 {
		cfg.UploadBatchSize = 30
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = 2000
	}
	return &Indexer{deps: deps, cfg: cfg, log: log}
}

// fileOutput is the extraction product for one file, staged until upload
// decides whether its fingerprint may be recorded
type fileOutput struct {
	path        string
	relPath     string
	fingerprint *tracker.FileFingerprint
	chunks      []types.Chunk
	parseErrors []string
}

// Index runs one indexing operation for a codebase. Lock contention is a
// structured outcome, not an error.
func (idx *Indexer) Index(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	root, err := filepath.Abs(req.CodebasePath)
	if err != nil {
		return nil, fmt.Errorf("resolve codebase path: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("codebase path is not a directory: %s", root)
	}

	namespace := tracker.NamespaceFor(root)
	result := &Result{
		OperationID: uuid.NewString(),
		Namespace:   namespace,
	}

	lock, err := idx.deps.Locks.Acquire("index:" + namespace)
	if errors.Is(err, tracker.ErrLockHeld) {
		result.AlreadyRunning = true
		result.Message = err.Error()
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire index lock: %w", err)
	}
	defer func() {
		if releaseErr := idx.deps.Locks.Release(lock); releaseErr != nil {
			idx.log.Warn("release index lock", zap.Error(releaseErr))
		}
	}()

	snapshot, err := idx.deps.Snapshots.Load(root)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	result.Mode = "incremental"
	if snapshot == nil || req.Force {
		result.Mode = "full"
	}
	if snapshot == nil {
		snapshot = tracker.NewSnapshot(root, namespace)
	}

	files, err := idx.discoverFiles(root)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	changes := tracker.ComputeChangeSet(files, snapshotOrNil(snapshot, result.Mode), tracker.ChangeOptions{
		HashRecheckWindow: idx.cfg.HashRecheckWindow,
		Force:             req.Force,
	})
	result.FilesUnchanged = len(changes.UnchangedFiles)

	idx.log.Info("change set computed",
		zap.String("namespace", namespace),
		zap.String("mode", result.Mode),
		zap.Int("new", len(changes.NewFiles)),
		zap.Int("modified", len(changes.ModifiedFiles)),
		zap.Int("deleted", len(changes.DeletedFiles)),
		zap.Int("unchanged", len(changes.UnchangedFiles)),
		zap.Int("dependencyChanges", len(changes.DependencyChanges)))

	// Deletions first: remove vector rows, symbol rows, and fingerprints.
	for _, path := range changes.DeletedFiles {
		if fp := snapshot.Fingerprint(path); fp != nil {
			if len(fp.ChunkIDs) > 0 {
				if err := idx.deps.Store.DeleteByIDs(ctx, namespace, fp.ChunkIDs); err != nil {
					result.Errors = append(result.Errors, types.FileError{File: path, Error: err.Error()})
					continue
				}
				result.ChunksDeleted += len(fp.ChunkIDs)
			}
			if idx.deps.Symbols != nil {
				if err := idx.deps.Symbols.DeleteFile(ctx, namespace, fp.RelativePath); err != nil {
					idx.log.Warn("delete file symbols", zap.String("file", path), zap.Error(err))
				}
			}
		}
		snapshot.RemoveFile(path)
		result.FilesDeleted++
	}

	toProcess := append(append([]string{}, changes.NewFiles...), changes.ModifiedFiles...)
	toProcess = append(toProcess, changes.DependencyChanges...)
	sort.Strings(toProcess)

	outputs := idx.extractAll(ctx, root, toProcess, result)

	// Stale rows for re-processed files: chunk IDs shift when line ranges
	// move, so the old rows are removed before the new ones go up.
	for _, out := range outputs {
		if prior := snapshot.Fingerprint(out.path); prior != nil && len(prior.ChunkIDs) > 0 {
			if err := idx.deps.Store.DeleteByIDs(ctx, namespace, prior.ChunkIDs); err != nil {
				idx.log.Warn("delete stale chunks", zap.String("file", out.path), zap.Error(err))
			} else {
				result.ChunksDeleted += len(prior.ChunkIDs)
			}
		}
	}

	failed := idx.upload(ctx, namespace, outputs, result)

	relToAbs := make(map[string]string, len(files))
	for _, f := range files {
		if rel, err := filepath.Rel(root, f); err == nil {
			relToAbs[filepath.ToSlash(rel)] = f
		}
	}

	for _, out := range outputs {
		if failed[out.path] {
			continue
		}

		out.fingerprint.DependsOn = resolveImports(out.relPath, out.fingerprint.Imports, relToAbs)
		snapshot.SetFile(out.fingerprint)

		if idx.deps.Symbols != nil {
			if err := idx.deps.Symbols.ReplaceFileSymbols(ctx, namespace, out.relPath, out.fingerprint.Symbols); err != nil {
				idx.log.Warn("store symbols", zap.String("file", out.relPath), zap.Error(err))
			}
			deps := make([]string, 0, len(out.fingerprint.DependsOn))
			for _, dep := range out.fingerprint.DependsOn {
				if rel, err := filepath.Rel(root, dep); err == nil {
					deps = append(deps, filepath.ToSlash(rel))
				}
			}
			if err := idx.deps.Symbols.ReplaceFileDeps(ctx, namespace, out.relPath, deps); err != nil {
				idx.log.Warn("store deps", zap.String("file", out.relPath), zap.Error(err))
			}
		}

		result.FilesIndexed++
		result.ChunksCreated += len(out.fingerprint.ChunkIDs)
	}

	snapshot.LastIndexed = time.Now().UTC()
	snapshot.IndexingMethod = result.Mode
	if err := idx.deps.Snapshots.Save(snapshot); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	idx.deps.Registry.Put(tracker.RegistryEntry{
		CodebasePath: root,
		Namespace:    namespace,
		LastIndexed:  snapshot.LastIndexed,
		TotalFiles:   snapshot.TotalFiles,
		TotalChunks:  snapshot.TotalChunks,
	})
	if err := idx.deps.Registry.Save(); err != nil {
		return nil, fmt.Errorf("save registry: %w", err)
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result, nil
}

// snapshotOrNil feeds ComputeChangeSet a nil snapshot on full rebuilds of a
// fresh codebase so everything classifies as new
func snapshotOrNil(snap *tracker.Snapshot, mode string) *tracker.Snapshot {
	if mode == "full" && len(snap.Files) == 0 {
		return nil
	}
	return snap
}

// discoverFiles walks the codebase collecting files with registered
// extensions, skipping hidden and dependency directories
func (idx *Indexer) discoverFiles(root string) ([]string, error) {
	exts := idx.deps.Languages.Extensions()
	var files []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if path != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" || name == "dist") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if exts[ext] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// extractAll runs chunk extraction concurrently across files. Per-file
// failures are recorded and do not abort the run.
func (idx *Indexer) extractAll(ctx context.Context, root string, paths []string, result *Result) []*fileOutput {
	var (
		mu      sync.Mutex
		outputs []*fileOutput
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.cfg.Concurrency)

	for _, path := range paths {
		g.Go(func() error {
			out, err := idx.extractFile(gctx, root, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, types.FileError{File: path, Error: err.Error()})
				return nil
			}
			for _, msg := range out.parseErrors {
				result.Errors = append(result.Errors, types.FileError{File: path, Error: msg})
			}
			outputs = append(outputs, out)
			return nil
		})
	}
	// Goroutines only return nil; Wait is for the limiter.
	_ = g.Wait()

	sort.Slice(outputs, func(i, j int) bool { return outputs[i].path < outputs[j].path })
	return outputs
}

// extractFile reads and chunks one file, routing oversized chunks through the
// sub-chunker
func (idx *Indexer) extractFile(ctx context.Context, root, path string) (*fileOutput, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	spec, language := idx.deps.Languages.Lookup(path)
	if spec == nil {
		return nil, types.ErrUnsupportedLanguage
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, fmt.Errorf("relativize path: %w", err)
	}
	rel = filepath.ToSlash(rel)

	extracted, err := idx.deps.Extractor.Extract(ctx, content, language, rel)
	if err != nil {
		return nil, fmt.Errorf("extract chunks: %w", err)
	}

	var chunks []types.Chunk
	for _, chunk := range extracted.Chunks {
		chunk.FilePath = path
		if chunk.Size > idx.cfg.MaxChunkSize {
			chunks = append(chunks, idx.deps.Splitter.Split(chunk)...)
			continue
		}
		chunks = append(chunks, chunk)
	}

	fp := &tracker.FileFingerprint{
		Path:         path,
		RelativePath: rel,
		ModTime:      info.ModTime(),
		Size:         info.Size(),
		ContentHash:  tracker.HashBytes(content),
		IndexedAt:    time.Now().UTC(),
	}
	for _, chunk := range chunks {
		fp.ChunkIDs = append(fp.ChunkIDs, chunk.ID)
		fp.Symbols = append(fp.Symbols, chunk.Symbols...)
		fp.Imports = append(fp.Imports, chunk.Imports...)
	}

	return &fileOutput{
		path:        path,
		relPath:     rel,
		fingerprint: fp,
		chunks:      chunks,
		parseErrors: extracted.ParseErrors,
	}, nil
}

// uploadItem ties a row back to its source file so batch failures can be
// attributed
type uploadItem struct {
	row  vectorstore.Row
	path string
	text string
}

// upload embeds and upserts chunks in fixed-size batches, in order, pausing
// between batches. A failed batch marks its files failed; their fingerprints
// are not recorded so the next run retries them.
func (idx *Indexer) upload(ctx context.Context, namespace string, outputs []*fileOutput, result *Result) map[string]bool {
	var items []uploadItem
	for _, out := range outputs {
		for _, chunk := range out.chunks {
			text := chunk.Content
			if len(text) > embedder.MaxInputChars {
				text = text[:embedder.MaxInputChars]
			}
			items = append(items, uploadItem{
				row: vectorstore.Row{
					ID:           chunk.ID,
					Content:      chunk.Content,
					FilePath:     chunk.FilePath,
					RelativePath: chunk.RelativePath,
					StartLine:    chunk.StartLine,
					EndLine:      chunk.EndLine,
					Language:     chunk.Language,
					ChunkType:    string(chunk.ChunkType),
					Symbols:      chunk.SymbolNames(),
				},
				path: out.path,
				text: text,
			})
		}
	}

	failed := make(map[string]bool)
	for start := 0; start < len(items); start += idx.cfg.UploadBatchSize {
		end := start + idx.cfg.UploadBatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		if err := idx.uploadBatch(ctx, namespace, batch); err != nil {
			for _, item := range batch {
				if !failed[item.path] {
					failed[item.path] = true
					result.Errors = append(result.Errors, types.FileError{File: item.path, Error: err.Error()})
				}
			}
		}

		if end < len(items) && idx.cfg.UploadBatchDelay > 0 {
			select {
			case <-ctx.Done():
				for _, item := range items[end:] {
					if !failed[item.path] {
						failed[item.path] = true
						result.Errors = append(result.Errors, types.FileError{File: item.path, Error: ctx.Err().Error()})
					}
				}
				return failed
			case <-time.After(idx.cfg.UploadBatchDelay):
			}
		}
	}
	return failed
}

func (idx *Indexer) uploadBatch(ctx context.Context, namespace string, batch []uploadItem) error {
	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = item.text
	}

	resp, err := idx.deps.Embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}

	rows := make([]vectorstore.Row, len(batch))
	for i, item := range batch {
		row := item.row
		row.Vector = resp.Embeddings[i].Vector
		rows[i] = row
	}
	if err := idx.deps.Store.Upsert(ctx, namespace, rows); err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}

// Status summarizes the indexed state of a codebase
type Status struct {
	Indexed      bool      `json:"indexed"`
	CodebasePath string    `json:"codebasePath"`
	Namespace    string    `json:"namespace"`
	LastIndexed  time.Time `json:"lastIndexed,omitempty"`
	TotalFiles   int       `json:"totalFiles"`
	TotalChunks  int       `json:"totalChunks"`
	Mode         string    `json:"mode,omitempty"`
	InProgress   bool      `json:"inProgress"`
}

// Status reports snapshot statistics for a codebase without touching the
// vector store
func (idx *Indexer) Status(codebasePath string) (*Status, error) {
	root, err := filepath.Abs(codebasePath)
	if err != nil {
		return nil, fmt.Errorf("resolve codebase path: %w", err)
	}
	namespace := tracker.NamespaceFor(root)

	status := &Status{CodebasePath: root, Namespace: namespace}

	if holder, err := idx.deps.Locks.Holder("index:" + namespace); err == nil && holder != nil {
		status.InProgress = true
	}

	snapshot, err := idx.deps.Snapshots.Load(root)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return status, nil
	}

	status.Indexed = true
	status.LastIndexed = snapshot.LastIndexed
	status.TotalFiles = snapshot.TotalFiles
	status.TotalChunks = snapshot.TotalChunks
	status.Mode = snapshot.IndexingMethod
	return status, nil
}
