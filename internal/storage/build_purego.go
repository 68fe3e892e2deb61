//go:build !cgo_sqlite

package storage

// Compiled without the cgo_sqlite tag: uses the pure Go SQLite
// implementation from modernc.org, which carries FTS5 built in.
//
//   CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to register connections with.
	DriverName = "sqlite"

	// BuildMode describes the current build configuration.
	BuildMode = "purego"
)
