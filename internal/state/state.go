// Package state persists the per-project map of file fingerprints used for
// incremental change detection. The on-disk format is a line-delimited JSON
// stream with a schema version header.
package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/locussearch/locus-mcp/pkg/types"
)

const (
	// SchemaName identifies the stream format.
	SchemaName = "locus-state"
	// SchemaVersion is written to new state files. Readers accept any
	// version with the same major.
	SchemaVersion = "1.0.0"
)

type header struct {
	Schema  string `json:"schema"`
	Version string `json:"version"`
}

// State is a project's persistent file→fingerprint map. Not safe for
// concurrent use; callers hold the project write lock.
type State struct {
	path    string
	records map[string]types.FileRecord
}

// Load reads the state file at path. A missing file yields an empty state.
// A malformed header or record stream returns ErrCorrupt.
func Load(path string) (*State, error) {
	s := &State{path: path, records: make(map[string]types.FileRecord)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !sc.Scan() {
		// Zero-byte file: treat as corrupt so the project is rebuilt.
		return nil, fmt.Errorf("state: %s: empty file: %w", path, types.ErrCorrupt)
	}
	var h header
	if err := json.Unmarshal(sc.Bytes(), &h); err != nil || h.Schema != SchemaName {
		return nil, fmt.Errorf("state: %s: bad header: %w", path, types.ErrCorrupt)
	}
	if err := checkVersion(h.Version); err != nil {
		return nil, err
	}

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.FileRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("state: %s: bad record: %w", path, types.ErrCorrupt)
		}
		s.records[rec.Path] = rec
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}
	return s, nil
}

func checkVersion(v string) error {
	have, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("state: version %q: %w", v, types.ErrCorrupt)
	}
	want := semver.MustParse(SchemaVersion)
	if have.Major() != want.Major() {
		return fmt.Errorf("state: unsupported schema version %s: %w", v, types.ErrCorrupt)
	}
	return nil
}

// Get returns the record for path, if present.
func (s *State) Get(path string) (types.FileRecord, bool) {
	rec, ok := s.records[path]
	return rec, ok
}

// Put inserts or replaces a record.
func (s *State) Put(rec types.FileRecord) {
	s.records[rec.Path] = rec
}

// Delete removes a record.
func (s *State) Delete(path string) {
	delete(s.records, path)
}

// Len returns the number of tracked files.
func (s *State) Len() int { return len(s.records) }

// Iterate returns all records, sorted by path for deterministic output.
func (s *State) Iterate() []types.FileRecord {
	out := make([]types.FileRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Persist writes the state atomically: temp file in the same directory,
// fsync, rename.
func (s *State) Persist() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("state: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	if err := enc.Encode(header{Schema: SchemaName, Version: SchemaVersion}); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write header: %w", err)
	}
	for _, rec := range s.Iterate() {
		if err := enc.Encode(rec); err != nil {
			tmp.Close()
			return fmt.Errorf("state: write record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}

// Unchanged reports whether the scanner observation matches the stored
// fingerprint: mtime equal to nanosecond precision and size equal.
func Unchanged(rec types.FileRecord, mtimeSec, mtimeNsec, size int64) bool {
	return rec.MtimeSec == mtimeSec && rec.MtimeNsec == mtimeNsec && rec.Size == size
}
