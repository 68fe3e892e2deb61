package types

import (
	"errors"
	"fmt"
	"strings"
)

// FileKind classifies a file for chunking purposes.
type FileKind string

const (
	KindCode FileKind = "code"
	KindDoc  FileKind = "doc"
)

// Chunk is a contiguous line- or token-window of a file, the unit of
// indexing and retrieval. Chunks are immutable; on file change the file's
// whole chunk range is replaced.
type Chunk struct {
	ID        string   // "{projectID}:{relpath}:{ordinal}"
	ProjectID string
	Path      string // relative, forward-slash
	Ordinal   int    // zero-based within the file, contiguous
	StartLine int    // 1-based, inclusive
	EndLine   int    // 1-based, inclusive
	Text      string
	Kind      FileKind
}

// ChunkID builds the canonical chunk identifier.
func ChunkID(projectID, relPath string, ordinal int) string {
	return fmt.Sprintf("%s:%s:%d", projectID, relPath, ordinal)
}

// ParseChunkID splits a chunk identifier into its parts. The path component
// may itself contain colons (Windows drive letters never appear because
// paths are project-relative), so the ordinal is taken from the last colon
// and the project ID from the first.
func ParseChunkID(id string) (projectID, relPath string, ordinal int, err error) {
	first := strings.Index(id, ":")
	last := strings.LastIndex(id, ":")
	if first < 0 || last <= first {
		return "", "", 0, errors.New("malformed chunk id")
	}
	if _, err := fmt.Sscanf(id[last+1:], "%d", &ordinal); err != nil {
		return "", "", 0, fmt.Errorf("malformed chunk ordinal: %w", err)
	}
	return id[:first], id[first+1 : last], ordinal, nil
}

// Validate checks the chunk's structural invariants.
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk id cannot be empty")
	}
	if c.Text == "" {
		return errors.New("chunk text cannot be empty")
	}
	if c.StartLine <= 0 || c.EndLine < c.StartLine {
		return errors.New("invalid chunk line range")
	}
	if c.Ordinal < 0 {
		return errors.New("chunk ordinal must be non-negative")
	}
	return nil
}
