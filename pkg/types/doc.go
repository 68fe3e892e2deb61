// Package types contains the shared domain types of the retrieval engine:
// projects, chunks, candidates, change statistics, symbols, and the typed
// error kinds surfaced across component boundaries.
package types
