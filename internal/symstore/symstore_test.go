package symstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemapper/codemap-mcp/pkg/types"
)

const testNS = "proj-abc123"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "symbols.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedSymbols(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.ReplaceFileSymbols(ctx, testNS, "src/auth.ts", []types.Symbol{
		{Name: "validateToken", Kind: types.KindFunction, Line: 10},
		{Name: "TokenError", Kind: types.KindClass, Line: 3},
	}))
	require.NoError(t, store.ReplaceFileSymbols(ctx, testNS, "src/session.ts", []types.Symbol{
		{Name: "validateTokenExpiry", Kind: types.KindFunction, Line: 22},
		{Name: "Session", Kind: types.KindInterface, Line: 5},
	}))
}

func TestSearchSymbols_ExactFirst(t *testing.T) {
	store := newTestStore(t)
	seedSymbols(t, store)

	rows, err := store.SearchSymbols(context.Background(), testNS, "validateToken", nil, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Exact name match sorts ahead of the substring match.
	assert.Equal(t, "validateToken", rows[0].Name)
	assert.Equal(t, "src/auth.ts", rows[0].FilePath)
	assert.Equal(t, types.KindFunction, rows[0].Kind)
	assert.Equal(t, 10, rows[0].Line)
	assert.Equal(t, "validateTokenExpiry", rows[1].Name)
}

func TestSearchSymbols_KindFilter(t *testing.T) {
	store := newTestStore(t)
	seedSymbols(t, store)

	rows, err := store.SearchSymbols(context.Background(), testNS, "Token", []string{"class"}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "TokenError", rows[0].Name)
}

func TestSearchSymbols_NamespaceIsolation(t *testing.T) {
	store := newTestStore(t)
	seedSymbols(t, store)

	rows, err := store.SearchSymbols(context.Background(), "other-ns", "validateToken", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSearchSymbols_LikeEscaping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.ReplaceFileSymbols(ctx, testNS, "src/odd.py", []types.Symbol{
		{Name: "do_work", Kind: types.KindFunction, Line: 1},
		{Name: "doXwork", Kind: types.KindFunction, Line: 9},
	}))

	// Underscore is escaped, not treated as a single-char wildcard.
	rows, err := store.SearchSymbols(ctx, testNS, "do_work", nil, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "do_work", rows[0].Name)
}

func TestSearchSymbols_EmptyQuery(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SearchSymbols(context.Background(), testNS, "", nil, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceFileSymbols_Replaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceFileSymbols(ctx, testNS, "src/a.ts", []types.Symbol{
		{Name: "old", Kind: types.KindFunction, Line: 1},
	}))
	require.NoError(t, store.ReplaceFileSymbols(ctx, testNS, "src/a.ts", []types.Symbol{
		{Name: "renamed", Kind: types.KindFunction, Line: 1},
	}))

	rows, err := store.SearchSymbols(ctx, testNS, "old", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = store.SearchSymbols(ctx, testNS, "renamed", nil, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRelatedFiles_BothDirections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceFileDeps(ctx, testNS, "src/b.ts", []string{"src/a.ts"}))
	require.NoError(t, store.ReplaceFileDeps(ctx, testNS, "src/c.ts", []string{"src/b.ts"}))

	// b imports a, c imports b: both neighbors of b come back.
	related, err := store.RelatedFiles(ctx, testNS, "src/b.ts")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.ts", "src/c.ts"}, related)

	related, err = store.RelatedFiles(ctx, testNS, "src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/b.ts"}, related)
}

func TestReplaceFileDeps_SkipsSelfAndReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceFileDeps(ctx, testNS, "src/a.ts", []string{"src/a.ts", "src/b.ts"}))
	related, err := store.RelatedFiles(ctx, testNS, "src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/b.ts"}, related)

	require.NoError(t, store.ReplaceFileDeps(ctx, testNS, "src/a.ts", []string{"src/c.ts"}))
	related, err = store.RelatedFiles(ctx, testNS, "src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/c.ts"}, related)
}

func TestDeleteFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSymbols(t, store)
	require.NoError(t, store.ReplaceFileDeps(ctx, testNS, "src/session.ts", []string{"src/auth.ts"}))

	require.NoError(t, store.DeleteFile(ctx, testNS, "src/auth.ts"))

	rows, err := store.SearchSymbols(ctx, testNS, "validateToken", nil, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "src/session.ts", rows[0].FilePath)

	// The incoming edge from session.ts is gone too.
	related, err := store.RelatedFiles(ctx, testNS, "src/session.ts")
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestDeleteNamespace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSymbols(t, store)
	require.NoError(t, store.ReplaceFileSymbols(ctx, "other-ns", "main.go", []types.Symbol{
		{Name: "main", Kind: types.KindFunction, Line: 1},
	}))

	require.NoError(t, store.DeleteNamespace(ctx, testNS))

	stats, err := store.NamespaceStats(ctx, testNS)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	stats, err = store.NamespaceStats(ctx, "other-ns")
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 1, Symbols: 1}, stats)
}

func TestNamespaceStats(t *testing.T) {
	store := newTestStore(t)
	seedSymbols(t, store)

	stats, err := store.NamespaceStats(context.Background(), testNS)
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 2, Symbols: 4}, stats)
}
