// Package storage opens the SQLite databases backing the keyword index,
// the query cache, and the symbol index. The driver is selected at build
// time (see build_purego.go / build_cgo.go).
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Open opens (creating if needed) a SQLite database at path with the
// settings every index store uses: WAL journaling, foreign keys on, and a
// single writer connection.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir: %w", err)
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: enable foreign keys: %w", err)
	}

	// SQLite benefits from a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}
