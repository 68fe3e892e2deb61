// Package symbols maintains the lightweight AST-derived symbol map:
// definitions and reference sites extracted with tree-sitter and stored in
// a per-project SQLite database.
package symbols

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/locussearch/locus-mcp/internal/storage"
	"github.com/locussearch/locus-mcp/pkg/types"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS symbols (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_symbols_path ON symbols(path);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);

CREATE TABLE IF NOT EXISTS refs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL,
    name TEXT NOT NULL,
    line INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refs_path ON refs(path);
CREATE INDEX IF NOT EXISTS idx_refs_name ON refs(name);
`

// Index is a project-scoped symbol index.
type Index struct {
	db        *sql.DB
	languages map[string]*language
}

// Open opens (creating if needed) the symbol index at dbPath.
func Open(dbPath string) (*Index, error) {
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("symbols: apply schema: %w", err)
	}
	return &Index{db: db, languages: newLanguages()}, nil
}

// Close releases the database handle.
func (ix *Index) Close() error { return ix.db.Close() }

// Supported reports whether symbol extraction handles this path's
// extension.
func (ix *Index) Supported(path string) bool {
	_, ok := ix.languages[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IndexFile replaces the stored symbols and references for relPath with
// those extracted from content. Unsupported extensions are a no-op. A
// parse failure skips the file for symbol extraction only.
func (ix *Index) IndexFile(ctx context.Context, relPath string, content []byte) error {
	lang, ok := ix.languages[strings.ToLower(filepath.Ext(relPath))]
	if !ok {
		return nil
	}

	defs, refs, err := extract(lang, content)
	if err != nil {
		return fmt.Errorf("symbols: parse %s: %w", relPath, err)
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("symbols: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE path = ?`, relPath); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM refs WHERE path = ?`, relPath); err != nil {
		return err
	}
	for _, d := range defs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO symbols (path, name, kind, start_line, end_line) VALUES (?, ?, ?, ?, ?)`,
			relPath, d.Name, string(d.Kind), d.StartLine, d.EndLine); err != nil {
			return err
		}
	}
	for _, r := range refs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO refs (path, name, line) VALUES (?, ?, ?)`,
			relPath, r.Name, r.Line); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteFile removes everything recorded for relPath.
func (ix *Index) DeleteFile(ctx context.Context, relPath string) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM symbols WHERE path = ?`, relPath); err != nil {
		return err
	}
	_, err := ix.db.ExecContext(ctx, `DELETE FROM refs WHERE path = ?`, relPath)
	return err
}

// Symbols lists the definitions extracted from relPath, in line order.
func (ix *Index) Symbols(ctx context.Context, relPath string) ([]types.SymbolInfo, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT name, kind, start_line, end_line FROM symbols
		WHERE path = ? ORDER BY start_line, name`, relPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbols(rows, relPath)
}

// FindDefinition searches the project for definitions named name. kind is
// optional.
func (ix *Index) FindDefinition(ctx context.Context, name string, kind types.SymbolKind) ([]types.SymbolInfo, error) {
	var rows *sql.Rows
	var err error
	if kind != "" {
		rows, err = ix.db.QueryContext(ctx, `
			SELECT name, kind, start_line, end_line, path FROM symbols
			WHERE name = ? AND kind = ? ORDER BY path, start_line`, name, string(kind))
	} else {
		rows, err = ix.db.QueryContext(ctx, `
			SELECT name, kind, start_line, end_line, path FROM symbols
			WHERE name = ? ORDER BY path, start_line`, name)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SymbolInfo
	for rows.Next() {
		var s types.SymbolInfo
		var kindStr string
		if err := rows.Scan(&s.Name, &kindStr, &s.StartLine, &s.EndLine, &s.Path); err != nil {
			return nil, err
		}
		s.Kind = types.SymbolKind(kindStr)
		out = append(out, s)
	}
	return out, rows.Err()
}

// FindReferences lists AST-matched reference sites for name across the
// project. Occurrences inside comments or strings are never recorded.
func (ix *Index) FindReferences(ctx context.Context, name string) ([]types.Reference, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT path, name, line FROM refs WHERE name = ? ORDER BY path, line`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Reference
	for rows.Next() {
		var r types.Reference
		if err := rows.Scan(&r.Path, &r.Name, &r.Line); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rebuild drops all rows.
func (ix *Index) Rebuild(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM symbols`); err != nil {
		return err
	}
	_, err := ix.db.ExecContext(ctx, `DELETE FROM refs`)
	return err
}

func scanSymbols(rows *sql.Rows, path string) ([]types.SymbolInfo, error) {
	var out []types.SymbolInfo
	for rows.Next() {
		var s types.SymbolInfo
		var kindStr string
		if err := rows.Scan(&s.Name, &kindStr, &s.StartLine, &s.EndLine); err != nil {
			return nil, err
		}
		s.Kind = types.SymbolKind(kindStr)
		s.Path = path
		out = append(out, s)
	}
	return out, rows.Err()
}
