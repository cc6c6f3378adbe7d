package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sort"
	"time"
)

// DefaultHashRecheckWindow bounds how long after indexing a content hash is
// recomputed for files whose size and mtime look unchanged. Catching
// metadata-preserving rewrites is most valuable soon after indexing; an
// unbounded recheck would re-hash the whole corpus on every run. The window
// is a policy choice, configurable per run.
const DefaultHashRecheckWindow = 24 * time.Hour

// ChangeSet partitions the current and previous file sets for one run.
// Computed fresh each run and never persisted.
type ChangeSet struct {
	NewFiles       []string
	ModifiedFiles  []string
	DeletedFiles   []string
	UnchangedFiles []string

	// DependencyChanges lists files untouched themselves whose dependency
	// neighborhood changed; their cached symbol view may be stale.
	DependencyChanges []string
}

// Total returns how many files need re-processing
func (c *ChangeSet) Total() int {
	return len(c.NewFiles) + len(c.ModifiedFiles) + len(c.DependencyChanges)
}

// Empty reports whether nothing changed
func (c *ChangeSet) Empty() bool {
	return len(c.NewFiles) == 0 && len(c.ModifiedFiles) == 0 && len(c.DeletedFiles) == 0 && len(c.DependencyChanges) == 0
}

// ChangeOptions tunes change detection
type ChangeOptions struct {
	// HashRecheckWindow limits content re-hashing to fingerprints younger
	// than this. Zero means DefaultHashRecheckWindow.
	HashRecheckWindow time.Duration

	// Force classifies every current file as modified regardless of state
	Force bool
}

// ComputeChangeSet compares the current file listing against a prior
// snapshot. A nil snapshot classifies everything as new. A file that cannot
// be stat'ed or read during comparison is treated as modified; re-indexing is
// safer than silently skipping.
func ComputeChangeSet(currentPaths []string, snap *Snapshot, opts ChangeOptions) *ChangeSet {
	window := opts.HashRecheckWindow
	if window <= 0 {
		window = DefaultHashRecheckWindow
	}

	cs := &ChangeSet{}
	current := make(map[string]bool, len(currentPaths))

	for _, path := range currentPaths {
		current[path] = true

		var prior *FileFingerprint
		if snap != nil {
			prior = snap.Fingerprint(path)
		}
		if prior == nil {
			cs.NewFiles = append(cs.NewFiles, path)
			continue
		}
		if opts.Force {
			cs.ModifiedFiles = append(cs.ModifiedFiles, path)
			continue
		}

		if fileChanged(path, prior, window) {
			cs.ModifiedFiles = append(cs.ModifiedFiles, path)
		} else {
			cs.UnchangedFiles = append(cs.UnchangedFiles, path)
		}
	}

	if snap != nil {
		for _, path := range snap.Paths() {
			if !current[path] {
				cs.DeletedFiles = append(cs.DeletedFiles, path)
			}
		}
		cs.DependencyChanges = dependencyChanges(snap, cs)
	}

	sort.Strings(cs.NewFiles)
	sort.Strings(cs.ModifiedFiles)
	sort.Strings(cs.DeletedFiles)
	sort.Strings(cs.UnchangedFiles)
	sort.Strings(cs.DependencyChanges)
	return cs
}

// fileChanged compares a file on disk against its stored fingerprint
func fileChanged(path string, prior *FileFingerprint, window time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}

	if info.Size() != prior.Size {
		return true
	}
	if info.ModTime().After(prior.ModTime) {
		return true
	}

	// Size and mtime match. Only re-hash recently indexed files: the
	// time-bounded check catches metadata-preserving rewrites without
	// re-reading the whole corpus every run.
	if time.Since(prior.IndexedAt) < window {
		hash, err := HashFile(path)
		if err != nil {
			return true
		}
		return hash != prior.ContentHash
	}

	return false
}

// dependencyChanges collects files whose dependents include any touched file,
// minus files already classified as new, modified, or deleted
func dependencyChanges(snap *Snapshot, cs *ChangeSet) []string {
	touched := make(map[string]bool)
	for _, p := range cs.NewFiles {
		touched[p] = true
	}
	for _, p := range cs.ModifiedFiles {
		touched[p] = true
	}
	for _, p := range cs.DeletedFiles {
		touched[p] = true
	}

	affected := make(map[string]bool)
	for path := range touched {
		fp := snap.Fingerprint(path)
		if fp == nil {
			continue
		}
		for _, dependent := range fp.Dependents {
			if !touched[dependent] {
				affected[dependent] = true
			}
		}
		for _, dep := range fp.DependsOn {
			if !touched[dep] {
				affected[dep] = true
			}
		}
	}

	out := make([]string, 0, len(affected))
	for path := range affected {
		out = append(out, path)
	}
	return out
}

// HashFile computes the hex-encoded SHA-256 digest of a file's content
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes computes the hex-encoded SHA-256 digest of in-memory content
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
