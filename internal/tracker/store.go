package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store persists snapshots and the codebase registry under a data directory:
// one JSON document per codebase plus registry.json. Writes are atomic
// (temp file then rename) so a crash never leaves a partially written
// snapshot behind.
type Store struct {
	dir string
	log *zap.Logger
}

// NewStore creates a snapshot store rooted at dir
func NewStore(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

// Dir returns the data directory
func (s *Store) Dir() string {
	return s.dir
}

// SnapshotPath returns the snapshot file path for a codebase
func (s *Store) SnapshotPath(codebasePath string) string {
	return filepath.Join(s.dir, NamespaceFor(codebasePath)+".json")
}

// Load reads the snapshot for a codebase. A missing file returns (nil, nil).
// An unparsable snapshot is treated as "no prior index" so the caller falls
// back to a full rebuild instead of failing outright.
func (s *Store) Load(codebasePath string) (*Snapshot, error) {
	data, err := os.ReadFile(s.SnapshotPath(codebasePath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("corrupt snapshot, forcing full rebuild",
			zap.String("codebase", codebasePath),
			zap.Error(err))
		return nil, nil
	}
	if snap.Version != SchemaVersion {
		s.log.Warn("snapshot schema mismatch, forcing full rebuild",
			zap.String("codebase", codebasePath),
			zap.Int("found", snap.Version),
			zap.Int("want", SchemaVersion))
		return nil, nil
	}
	if snap.Files == nil {
		snap.Files = make(map[string]*FileFingerprint)
	}
	return &snap, nil
}

// Save serializes a snapshot once and renames it into place
func (s *Store) Save(snap *Snapshot) error {
	snap.Version = SchemaVersion
	snap.RecountTotals()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return atomicWrite(s.SnapshotPath(snap.CodebasePath), data)
}

// Delete removes the snapshot for a codebase
func (s *Store) Delete(codebasePath string) error {
	err := os.Remove(s.SnapshotPath(codebasePath))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// NamespaceFor derives the vector-store namespace for a codebase path
func NamespaceFor(codebasePath string) string {
	base := filepath.Base(filepath.Clean(codebasePath))
	sum := sha256.Sum256([]byte(filepath.Clean(codebasePath)))
	return fmt.Sprintf("%s-%s", sanitize(base), hex.EncodeToString(sum[:6]))
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// RegistryEntry summarizes one indexed codebase
type RegistryEntry struct {
	CodebasePath string    `json:"codebasePath"`
	Namespace    string    `json:"namespace"`
	LastIndexed  time.Time `json:"lastIndexed"`
	TotalFiles   int       `json:"totalFiles"`
	TotalChunks  int       `json:"totalChunks"`
}

// Registry is the repository of indexed codebases. It is an explicit object
// with a load/save lifecycle handed to callers by injection; loading is an
// explicit call, never a side effect of first use.
type Registry struct {
	mu      sync.RWMutex
	path    string
	entries map[string]RegistryEntry
	loaded  bool
}

// NewRegistry creates a registry persisted at the given data directory
func NewRegistry(dir string) *Registry {
	return &Registry{
		path:    filepath.Join(dir, "registry.json"),
		entries: make(map[string]RegistryEntry),
	}
}

// Load reads the registry from disk. Safe to call again to reload.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}

	entries := make(map[string]RegistryEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse registry: %w", err)
	}
	r.entries = entries
	r.loaded = true
	return nil
}

// Save writes the registry to disk atomically
func (r *Registry) Save() error {
	r.mu.RLock()
	data, err := json.MarshalIndent(r.entries, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	return atomicWrite(r.path, data)
}

// Put records or updates an entry
func (r *Registry) Put(entry RegistryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.CodebasePath] = entry
}

// Get looks up an entry by codebase path
func (r *Registry) Get(codebasePath string) (RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[codebasePath]
	return entry, ok
}

// Remove drops an entry
func (r *Registry) Remove(codebasePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, codebasePath)
}

// List returns all entries sorted by codebase path
func (r *Registry) List() []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CodebasePath < out[j].CodebasePath })
	return out
}

// Loaded reports whether Load has completed
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}
