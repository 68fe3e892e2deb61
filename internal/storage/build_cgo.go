//go:build cgo_sqlite

package storage

// Compiled with the cgo_sqlite tag: uses the C SQLite driver, faster for
// large indexes.
//
//   CGO_ENABLED=1 go build -tags "cgo_sqlite fts5" ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to register connections with.
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration.
	BuildMode = "cgo"
)
