package tracker

import (
	"sort"
	"time"

	"github.com/codemapper/codemap-mcp/pkg/types"
)

// SchemaVersion is bumped when the persisted snapshot layout changes
const SchemaVersion = 2

// FileFingerprint is the per-file state used for incremental indexing
type FileFingerprint struct {
	Path         string    `json:"path"`
	RelativePath string    `json:"relativePath"`
	ModTime      time.Time `json:"modTime"`
	Size         int64     `json:"size"`
	ContentHash  string    `json:"contentHash"`
	IndexedAt    time.Time `json:"indexedAt"`

	ChunkIDs []string       `json:"chunkIds,omitempty"`
	Symbols  []types.Symbol `json:"symbols,omitempty"`
	Imports  []types.Import `json:"imports,omitempty"`

	// DependsOn and Dependents are kept symmetric by the snapshot on
	// every write: A in B.DependsOn iff B in A.Dependents.
	DependsOn  []string `json:"dependsOn,omitempty"`
	Dependents []string `json:"dependents,omitempty"`
}

// Snapshot is the persisted aggregate for one indexed codebase. It is built
// fully in memory and serialized once; a partially written snapshot never
// reaches disk.
type Snapshot struct {
	CodebasePath   string                      `json:"codebasePath"`
	Namespace      string                      `json:"namespace"`
	LastIndexed    time.Time                   `json:"lastIndexed"`
	TotalFiles     int                         `json:"totalFiles"`
	TotalChunks    int                         `json:"totalChunks"`
	IndexingMethod string                      `json:"indexingMethod"` // full or incremental
	Version        int                         `json:"version"`
	Files          map[string]*FileFingerprint `json:"fileMetadata"`
}

// NewSnapshot creates an empty snapshot for a codebase
func NewSnapshot(codebasePath, namespace string) *Snapshot {
	return &Snapshot{
		CodebasePath:   codebasePath,
		Namespace:      namespace,
		IndexingMethod: "full",
		Version:        SchemaVersion,
		Files:          make(map[string]*FileFingerprint),
	}
}

// Fingerprint returns the fingerprint for a path, or nil
func (s *Snapshot) Fingerprint(path string) *FileFingerprint {
	return s.Files[path]
}

// SetFile stores a fingerprint and rebuilds its dependency edges, outgoing
// and incoming, so the DependsOn/Dependents symmetry invariant holds after
// the write. Incoming edges are recomputed from the other fingerprints'
// DependsOn lists: a file can be written before the files it is imported by.
func (s *Snapshot) SetFile(fp *FileFingerprint) {
	if prev, ok := s.Files[fp.Path]; ok {
		for _, dep := range prev.DependsOn {
			if other := s.Files[dep]; other != nil {
				other.Dependents = remove(other.Dependents, fp.Path)
			}
		}
	}

	deps := fp.DependsOn
	fp.DependsOn = nil
	fp.Dependents = nil
	for path, other := range s.Files {
		if path == fp.Path {
			continue
		}
		for _, dep := range other.DependsOn {
			if dep == fp.Path {
				fp.Dependents = add(fp.Dependents, path)
				break
			}
		}
	}
	s.Files[fp.Path] = fp
	s.SetDependencies(fp.Path, deps)
}

// SetDependencies replaces a file's DependsOn list, updating the Dependents
// list of every affected file in both directions
func (s *Snapshot) SetDependencies(path string, dependsOn []string) {
	fp := s.Files[path]
	if fp == nil {
		return
	}

	for _, dep := range fp.DependsOn {
		if other := s.Files[dep]; other != nil {
			other.Dependents = remove(other.Dependents, path)
		}
	}

	fp.DependsOn = nil
	for _, dep := range dedupe(dependsOn) {
		if dep == path {
			continue
		}
		fp.DependsOn = append(fp.DependsOn, dep)
		if other := s.Files[dep]; other != nil {
			other.Dependents = add(other.Dependents, path)
		}
	}
	sort.Strings(fp.DependsOn)
}

// RemoveFile deletes a fingerprint and drops the now-missing cross-reference
// from every file that pointed at it
func (s *Snapshot) RemoveFile(path string) {
	fp := s.Files[path]
	if fp == nil {
		return
	}

	for _, dep := range fp.DependsOn {
		if other := s.Files[dep]; other != nil {
			other.Dependents = remove(other.Dependents, path)
		}
	}
	for _, dependent := range fp.Dependents {
		if other := s.Files[dependent]; other != nil {
			other.DependsOn = remove(other.DependsOn, path)
		}
	}

	delete(s.Files, path)
}

// Paths returns all fingerprinted paths in sorted order
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// RecountTotals refreshes the aggregate counters from the fingerprints
func (s *Snapshot) RecountTotals() {
	s.TotalFiles = len(s.Files)
	total := 0
	for _, fp := range s.Files {
		total += len(fp.ChunkIDs)
	}
	s.TotalChunks = total
}

func remove(list []string, item string) []string {
	out := list[:0]
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}

func add(list []string, item string) []string {
	for _, v := range list {
		if v == item {
			return list
		}
	}
	list = append(list, item)
	sort.Strings(list)
	return list
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
