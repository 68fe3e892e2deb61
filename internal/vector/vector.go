// Package vector implements a flat inner-product index over unit-normalized
// embeddings, persisted as a raw float32 file plus a line-delimited JSON
// side table. Deletes tombstone positions; compaction rewrites both files.
package vector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/locussearch/locus-mcp/pkg/types"
)

const (
	magic         = "LOCUSVEC"
	formatVersion = 1

	// compactThreshold triggers compaction when tombstones exceed this
	// fraction of live vectors.
	compactThreshold = 0.25
)

// Meta is the side-table record for one index position.
type Meta struct {
	ID        string `json:"id"`
	Path      string `json:"path,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// Hit is one nearest-neighbor result.
type Hit struct {
	ID        string
	Path      string
	StartLine int
	EndLine   int
	Score     float64
}

// Index is a project-scoped flat vector index. Safe for concurrent use.
type Index struct {
	mu sync.RWMutex

	idxPath  string
	metaPath string

	dim     int
	vectors [][]float32
	meta    []Meta
	byID    map[string]int // live ID -> position
	dead    int
}

// Open loads the index files, creating an empty index when they do not
// exist. dim fixes the dimension for a fresh index; for an existing index
// a non-zero dim must match the file header or ErrCorrupt is returned.
func Open(idxPath, metaPath string, dim int) (*Index, error) {
	ix := &Index{
		idxPath:  idxPath,
		metaPath: metaPath,
		dim:      dim,
		byID:     make(map[string]int),
	}

	f, err := os.Open(idxPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ix, nil
		}
		return nil, fmt.Errorf("vector: open %s: %w", idxPath, err)
	}
	defer f.Close()

	fileDim, count, err := readHeader(f)
	if err != nil {
		return nil, fmt.Errorf("vector: %s: %w", idxPath, err)
	}
	if dim != 0 && fileDim != dim {
		return nil, fmt.Errorf("vector: %s: dimension %d does not match expected %d: %w",
			idxPath, fileDim, dim, types.ErrCorrupt)
	}
	ix.dim = fileDim

	r := bufio.NewReaderSize(f, 1<<20)
	ix.vectors = make([][]float32, 0, count)
	buf := make([]byte, 4*fileDim)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("vector: %s: truncated at %d: %w", idxPath, i, types.ErrCorrupt)
		}
		vec := make([]float32, fileDim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:]))
		}
		ix.vectors = append(ix.vectors, vec)
	}

	if err := ix.loadMeta(count); err != nil {
		return nil, err
	}
	return ix, nil
}

func readHeader(f *os.File) (dim, count int, err error) {
	head := make([]byte, len(magic)+4+4+4)
	if _, err := io.ReadFull(f, head); err != nil {
		return 0, 0, fmt.Errorf("short header: %w", types.ErrCorrupt)
	}
	if string(head[:len(magic)]) != magic {
		return 0, 0, fmt.Errorf("bad magic: %w", types.ErrCorrupt)
	}
	ver := binary.LittleEndian.Uint32(head[len(magic):])
	if ver != formatVersion {
		return 0, 0, fmt.Errorf("unsupported format version %d: %w", ver, types.ErrCorrupt)
	}
	dim = int(binary.LittleEndian.Uint32(head[len(magic)+4:]))
	count = int(binary.LittleEndian.Uint32(head[len(magic)+8:]))
	if dim <= 0 || count < 0 {
		return 0, 0, fmt.Errorf("bad dimensions: %w", types.ErrCorrupt)
	}
	return dim, count, nil
}

func (ix *Index) loadMeta(count int) error {
	f, err := os.Open(ix.metaPath)
	if err != nil {
		return fmt.Errorf("vector: open %s: %w", ix.metaPath, types.ErrCorrupt)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var m Meta
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			return fmt.Errorf("vector: %s: bad meta record: %w", ix.metaPath, types.ErrCorrupt)
		}
		pos := len(ix.meta)
		ix.meta = append(ix.meta, m)
		if m.Deleted {
			ix.dead++
		} else {
			ix.byID[m.ID] = pos
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("vector: read %s: %w", ix.metaPath, err)
	}
	if len(ix.meta) != count {
		return fmt.Errorf("vector: meta count %d does not match index count %d: %w",
			len(ix.meta), count, types.ErrCorrupt)
	}
	return nil
}

// Dim returns the index dimension (zero until the first upsert of a fresh
// index).
func (ix *Index) Dim() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Count returns the number of live vectors.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

// Upsert inserts or replaces entries. All vectors must share the index
// dimension; the first upsert of a fresh index freezes it.
func (ix *Index) Upsert(metas []Meta, vecs [][]float32) error {
	if len(metas) != len(vecs) {
		return fmt.Errorf("vector: %d metas for %d vectors", len(metas), len(vecs))
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for i, vec := range vecs {
		if ix.dim == 0 {
			ix.dim = len(vec)
		}
		if len(vec) != ix.dim {
			return &types.DimensionMismatchError{Want: ix.dim, Got: len(vec)}
		}
		if prev, ok := ix.byID[metas[i].ID]; ok {
			ix.meta[prev].Deleted = true
			ix.dead++
		}
		pos := len(ix.vectors)
		ix.vectors = append(ix.vectors, vec)
		m := metas[i]
		m.Deleted = false
		ix.meta = append(ix.meta, m)
		ix.byID[m.ID] = pos
	}
	return nil
}

// DeleteByFile tombstones every live entry whose Path equals path.
func (ix *Index) DeleteByFile(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for id, pos := range ix.byID {
		if ix.meta[pos].Path == path {
			ix.meta[pos].Deleted = true
			ix.dead++
			delete(ix.byID, id)
		}
	}
}

// Delete tombstones a single entry by ID.
func (ix *Index) Delete(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if pos, ok := ix.byID[id]; ok {
		ix.meta[pos].Deleted = true
		ix.dead++
		delete(ix.byID, id)
	}
}

// Search returns the top-limit live entries by inner product (cosine for
// unit vectors), ties broken by ID ascending.
func (ix *Index) Search(query []float32, limit int) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if limit <= 0 || len(ix.byID) == 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, &types.DimensionMismatchError{Want: ix.dim, Got: len(query)}
	}

	hits := make([]Hit, 0, len(ix.byID))
	for pos, m := range ix.meta {
		if m.Deleted {
			continue
		}
		hits = append(hits, Hit{
			ID:        m.ID,
			Path:      m.Path,
			StartLine: m.StartLine,
			EndLine:   m.EndLine,
			Score:     dot(query, ix.vectors[pos]),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// NeedsCompact reports whether tombstones exceed a quarter of live vectors.
func (ix *Index) NeedsCompact() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	live := len(ix.byID)
	if live == 0 {
		return ix.dead > 0
	}
	return float64(ix.dead)/float64(live) > compactThreshold
}

// Compact drops tombstoned positions in place.
func (ix *Index) Compact() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.compactLocked()
}

func (ix *Index) compactLocked() {
	if ix.dead == 0 {
		return
	}
	vectors := make([][]float32, 0, len(ix.byID))
	metas := make([]Meta, 0, len(ix.byID))
	byID := make(map[string]int, len(ix.byID))
	for pos, m := range ix.meta {
		if m.Deleted {
			continue
		}
		byID[m.ID] = len(vectors)
		vectors = append(vectors, ix.vectors[pos])
		metas = append(metas, m)
	}
	ix.vectors, ix.meta, ix.byID, ix.dead = vectors, metas, byID, 0
}

// Clear drops everything, keeping the dimension.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.vectors = nil
	ix.meta = nil
	ix.byID = make(map[string]int)
	ix.dead = 0
}

// Persist writes both files atomically (temp + rename), compacting first
// when the tombstone threshold has been crossed.
func (ix *Index) Persist() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.needsCompactLocked() {
		ix.compactLocked()
	}

	if err := os.MkdirAll(filepath.Dir(ix.idxPath), 0o755); err != nil {
		return fmt.Errorf("vector: mkdir: %w", err)
	}
	if err := ix.writeIndexFile(); err != nil {
		return err
	}
	return ix.writeMetaFile()
}

func (ix *Index) needsCompactLocked() bool {
	live := len(ix.byID)
	if live == 0 {
		return ix.dead > 0
	}
	return float64(ix.dead)/float64(live) > compactThreshold
}

func (ix *Index) writeIndexFile() error {
	tmp, err := os.CreateTemp(filepath.Dir(ix.idxPath), ".vec-*.tmp")
	if err != nil {
		return fmt.Errorf("vector: temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriterSize(tmp, 1<<20)
	head := make([]byte, len(magic)+12)
	copy(head, magic)
	binary.LittleEndian.PutUint32(head[len(magic):], formatVersion)
	binary.LittleEndian.PutUint32(head[len(magic)+4:], uint32(ix.dim))
	binary.LittleEndian.PutUint32(head[len(magic)+8:], uint32(len(ix.vectors)))
	if _, err := w.Write(head); err != nil {
		tmp.Close()
		return fmt.Errorf("vector: write header: %w", err)
	}

	buf := make([]byte, 4)
	for _, vec := range ix.vectors {
		for _, v := range vec {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := w.Write(buf); err != nil {
				tmp.Close()
				return fmt.Errorf("vector: write: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("vector: flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("vector: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, ix.idxPath)
}

func (ix *Index) writeMetaFile() error {
	tmp, err := os.CreateTemp(filepath.Dir(ix.metaPath), ".meta-*.tmp")
	if err != nil {
		return fmt.Errorf("vector: temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, m := range ix.meta {
		if err := enc.Encode(m); err != nil {
			tmp.Close()
			return fmt.Errorf("vector: write meta: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, ix.metaPath)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Normalize scales v to unit L2 length in place. A zero vector is left
// unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
