// Package symstore persists per-file symbol tables and import edges in a
// local SQLite database. It backs structural search (find files defining a
// name) and dependency expansion without a round trip to the vector store.
package symstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codemapper/codemap-mcp/pkg/types"
)

// ErrNotFound is returned when a requested entity doesn't exist
var ErrNotFound = errors.New("not found")

// SymbolRow is one stored symbol occurrence
type SymbolRow struct {
	FilePath string
	Name     string
	Kind     types.SymbolKind
	Line     int
}

// Stats summarizes a namespace
type Stats struct {
	Files   int
	Symbols int
}

// Store is a SQLite-backed symbol and dependency store
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the store at dbPath and applies migrations
func New(dbPath string) (*Store, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open symbol store: %w", err)
	}
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceFileSymbols atomically replaces the symbol rows for one file
func (s *Store) ReplaceFileSymbols(ctx context.Context, namespace, filePath string, symbols []types.Symbol) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM symbols WHERE namespace = ? AND file_path = ?",
		namespace, filePath); err != nil {
		return fmt.Errorf("clear symbols for %s: %w", filePath, err)
	}

	now := time.Now()
	for _, sym := range symbols {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO symbols (namespace, file_path, name, kind, line, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			namespace, filePath, sym.Name, string(sym.Kind), sym.Line, now); err != nil {
			return fmt.Errorf("insert symbol %s: %w", sym.Name, err)
		}
	}

	return tx.Commit()
}

// ReplaceFileDeps atomically replaces the outgoing import edges for one file
func (s *Store) ReplaceFileDeps(ctx context.Context, namespace, filePath string, dependsOn []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM file_deps WHERE namespace = ? AND file_path = ?",
		namespace, filePath); err != nil {
		return fmt.Errorf("clear deps for %s: %w", filePath, err)
	}

	for _, target := range dependsOn {
		if target == filePath {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO file_deps (namespace, file_path, depends_on)
			VALUES (?, ?, ?)`,
			namespace, filePath, target); err != nil {
			return fmt.Errorf("insert dep %s -> %s: %w", filePath, target, err)
		}
	}

	return tx.Commit()
}

// DeleteFile removes a file's symbols and its import edges in both directions
func (s *Store) DeleteFile(ctx context.Context, namespace, filePath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM symbols WHERE namespace = ? AND file_path = ?",
		namespace, filePath); err != nil {
		return fmt.Errorf("delete symbols for %s: %w", filePath, err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM file_deps WHERE namespace = ? AND (file_path = ? OR depends_on = ?)",
		namespace, filePath, filePath); err != nil {
		return fmt.Errorf("delete deps for %s: %w", filePath, err)
	}

	return tx.Commit()
}

// DeleteNamespace removes all rows for a codebase
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM symbols WHERE namespace = ?", namespace); err != nil {
		return fmt.Errorf("delete symbols: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM file_deps WHERE namespace = ?", namespace); err != nil {
		return fmt.Errorf("delete deps: %w", err)
	}

	return tx.Commit()
}

// SearchSymbols finds symbols whose name matches the query, exact matches
// first. Kinds, when non-empty, restricts the symbol kinds returned.
func (s *Store) SearchSymbols(ctx context.Context, namespace, query string, kinds []string, limit int) ([]SymbolRow, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty symbol query", ErrNotFound)
	}
	if limit <= 0 {
		limit = 50
	}

	sqlQuery := `
		SELECT file_path, name, kind, line
		FROM symbols
		WHERE namespace = ? AND name LIKE ? ESCAPE '\'`
	args := []any{namespace, "%" + escapeLike(query) + "%"}

	if len(kinds) > 0 {
		sqlQuery += " AND kind IN (?" + strings.Repeat(",?", len(kinds)-1) + ")"
		for _, k := range kinds {
			args = append(args, k)
		}
	}

	// Exact name matches sort ahead of substring matches.
	sqlQuery += `
		ORDER BY CASE WHEN name = ? THEN 0 ELSE 1 END, name, file_path, line
		LIMIT ?`
	args = append(args, query, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search symbols: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SymbolRow
	for rows.Next() {
		var row SymbolRow
		var kind string
		if err := rows.Scan(&row.FilePath, &row.Name, &kind, &row.Line); err != nil {
			return nil, fmt.Errorf("scan symbol row: %w", err)
		}
		row.Kind = types.SymbolKind(kind)
		out = append(out, row)
	}
	return out, rows.Err()
}

// RelatedFiles returns files connected to filePath by an import edge in
// either direction
func (s *Store) RelatedFiles(ctx context.Context, namespace, filePath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on FROM file_deps WHERE namespace = ? AND file_path = ?
		UNION
		SELECT file_path FROM file_deps WHERE namespace = ? AND depends_on = ?
		ORDER BY 1`,
		namespace, filePath, namespace, filePath)
	if err != nil {
		return nil, fmt.Errorf("query related files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan related file: %w", err)
		}
		if path != filePath {
			out = append(out, path)
		}
	}
	return out, rows.Err()
}

// NamespaceStats reports file and symbol counts for a namespace
func (s *Store) NamespaceStats(ctx context.Context, namespace string) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT file_path), COUNT(*)
		FROM symbols WHERE namespace = ?`, namespace).Scan(&stats.Files, &stats.Symbols)
	if err != nil {
		return Stats{}, fmt.Errorf("namespace stats: %w", err)
	}
	return stats, nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
