// Package memory provides an in-process vector store used by tests and
// offline development. It mirrors the remote store's semantics: cosine
// similarity for vector queries and term-frequency scoring for lexical ones.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/codemapper/codemap-mcp/internal/vectorstore"
)

// Store is an in-memory vectorstore.Store implementation
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]vectorstore.Row
}

var _ vectorstore.Store = (*Store)(nil)

// New creates an empty in-memory store
func New() *Store {
	return &Store{namespaces: make(map[string]map[string]vectorstore.Row)}
}

// Upsert stores rows, creating the namespace on first write
func (s *Store) Upsert(_ context.Context, namespace string, rows []vectorstore.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]vectorstore.Row)
		s.namespaces[namespace] = ns
	}
	for _, row := range rows {
		if row.ID == "" {
			return fmt.Errorf("row missing id")
		}
		ns[row.ID] = row
	}
	return nil
}

// Query runs vector or lexical retrieval over one namespace
func (s *Store) Query(_ context.Context, namespace string, q vectorstore.Query) ([]vectorstore.ScoredRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		return nil, vectorstore.ErrNamespaceNotFound
	}

	var scored []vectorstore.ScoredRow
	for _, row := range ns {
		if !matchesFilters(row, q.Filters) {
			continue
		}
		var score float64
		switch {
		case len(q.Vector) > 0:
			score = cosine(q.Vector, row.Vector)
		case q.Text != "":
			score = lexicalScore(q.Text, row)
		}
		if score <= 0 {
			continue
		}
		scored = append(scored, vectorstore.ScoredRow{Row: stripVector(row), Score: score})
	}

	sortScored(scored)
	return truncate(scored, q.Limit), nil
}

// HybridQuery returns both ranked lists for client-side fusion
func (s *Store) HybridQuery(ctx context.Context, namespace string, q vectorstore.HybridQuery) (*vectorstore.HybridResult, error) {
	vectorRows, err := s.Query(ctx, namespace, vectorstore.Query{Vector: q.Vector, Limit: q.Limit})
	if err != nil {
		return nil, err
	}
	lexicalRows, err := s.Query(ctx, namespace, vectorstore.Query{Text: q.Text, Limit: q.Limit})
	if err != nil {
		return nil, err
	}
	return &vectorstore.HybridResult{VectorRows: vectorRows, LexicalRows: lexicalRows}, nil
}

// NamespaceExists reports whether a namespace has rows
func (s *Store) NamespaceExists(_ context.Context, namespace string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.namespaces[namespace]
	return ok, nil
}

// DeleteNamespace removes a namespace entirely
func (s *Store) DeleteNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, namespace)
	return nil
}

// DeleteByIDs removes specific rows
func (s *Store) DeleteByIDs(_ context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(ns, id)
	}
	return nil
}

// Len returns the number of rows in a namespace
func (s *Store) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace])
}

func matchesFilters(row vectorstore.Row, filters map[string]string) bool {
	for key, want := range filters {
		var got string
		switch key {
		case "language":
			got = row.Language
		case "chunk_type":
			got = row.ChunkType
		case "relative_path":
			got = row.RelativePath
		default:
			return false
		}
		if got != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// lexicalScore approximates keyword retrieval: fraction of query terms
// present, weighted by term frequency
func lexicalScore(query string, row vectorstore.Row) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	content := strings.ToLower(row.Content)
	var hits, freq float64
	for _, term := range terms {
		n := strings.Count(content, term)
		if n > 0 {
			hits++
			freq += math.Log1p(float64(n))
		}
	}
	if hits == 0 {
		return 0
	}
	return hits/float64(len(terms)) + freq/100
}

func stripVector(row vectorstore.Row) vectorstore.Row {
	row.Vector = nil
	return row
}

func sortScored(rows []vectorstore.ScoredRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].ID < rows[j].ID
	})
}

func truncate(rows []vectorstore.ScoredRow, limit int) []vectorstore.ScoredRow {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
