// Package indexer converges a project's indexes with its working tree: it
// diffs the scanner snapshot against the index state, replaces chunks for
// added and modified files, purges deleted files, and persists the state
// once at the end.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/locussearch/locus-mcp/internal/chunker"
	"github.com/locussearch/locus-mcp/internal/embedder"
	"github.com/locussearch/locus-mcp/internal/keyword"
	"github.com/locussearch/locus-mcp/internal/scanner"
	"github.com/locussearch/locus-mcp/internal/state"
	"github.com/locussearch/locus-mcp/internal/symbols"
	"github.com/locussearch/locus-mcp/internal/vector"
	"github.com/locussearch/locus-mcp/internal/watcher"
	"github.com/locussearch/locus-mcp/pkg/types"
)

// Target bundles everything a catch-up pass mutates for one project.
type Target struct {
	Project   types.Project
	StatePath string
	Keyword   *keyword.Index
	Vector    *vector.Index // nil when vector indexing is disabled
	Symbols   *symbols.Index
	Embedder  embedder.Embedder
	Watcher   *watcher.Watcher // optional fast-path signal

	// Lock is the project write lock; held exclusively for the whole
	// pass. Reentrant calls from a goroutine already holding it are a
	// logic error.
	Lock *sync.RWMutex
}

// Config bounds one pass.
type Config struct {
	Workers      int
	EmbedBatch   int
	IdleDeadline time.Duration
	Timeout      time.Duration
}

func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.EmbedBatch <= 0 || c.EmbedBatch > embedder.MaxBatchSize {
		c.EmbedBatch = embedder.MaxBatchSize
	}
	if c.IdleDeadline <= 0 {
		c.IdleDeadline = 60 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
}

// Indexer coalesces concurrent catch-up calls per project.
type Indexer struct {
	flight singleflight.Group
	cfg    Config
}

// New creates an Indexer.
func New(cfg Config) *Indexer {
	cfg.normalize()
	return &Indexer{cfg: cfg}
}

// CatchUp brings the project's indexes up to date. At most one pass per
// project runs at a time; concurrent callers share the running pass's
// result.
func (idx *Indexer) CatchUp(ctx context.Context, t Target) (types.ChangeStats, error) {
	v, err, _ := idx.flight.Do(t.Project.ID, func() (interface{}, error) {
		return idx.run(ctx, t)
	})
	if err != nil {
		return types.ChangeStats{}, err
	}
	return v.(types.ChangeStats), nil
}

// fileJob is one added or modified file to (re)index.
type fileJob struct {
	entry    scanner.FileEntry
	modified bool
}

// fileResult is a read-and-chunked file ready for index writes.
type fileResult struct {
	job    fileJob
	hash   string
	chunks []types.Chunk
	err    error
	// skipped files (binary/oversize since snapshot, vanished) carry no
	// error and no chunks
	skipped bool
}

func (idx *Indexer) run(ctx context.Context, t Target) (types.ChangeStats, error) {
	start := time.Now()
	var stats types.ChangeStats

	ctx, cancel := context.WithTimeout(ctx, idx.cfg.Timeout)
	defer cancel()

	t.Lock.Lock()
	defer t.Lock.Unlock()

	// Progress watchdog: abort when no file completes within the idle
	// deadline.
	var progress atomic.Int64
	progress.Store(time.Now().UnixNano())
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for {
			select {
			case <-watchdogDone:
				return
			case <-tick.C:
				last := time.Unix(0, progress.Load())
				if time.Since(last) > idx.cfg.IdleDeadline {
					cancel()
					return
				}
			}
		}
	}()

	if t.Watcher != nil && t.Watcher.ConsumeClean() {
		stats.Duration = time.Since(start).Milliseconds()
		return stats, nil
	}

	st, err := state.Load(t.StatePath)
	if err != nil {
		return stats, fmt.Errorf("indexer: %w", err)
	}

	entries, err := scanner.Scan(t.Project.Root)
	if err != nil {
		return stats, fmt.Errorf("indexer: scan %s: %w", t.Project.Root, err)
	}
	byPath := make(map[string]scanner.FileEntry, len(entries))
	for _, e := range entries {
		byPath[e.RelPath] = e
	}

	// Purge deleted files and drop unchanged records; what remains in
	// byPath is added or possibly modified.
	var jobs []fileJob
	for _, rec := range st.Iterate() {
		entry, present := byPath[rec.Path]
		if !present {
			if err := idx.deleteFile(ctx, t, rec.Path); err != nil {
				return stats, err
			}
			st.Delete(rec.Path)
			stats.Deleted++
			progress.Store(time.Now().UnixNano())
			continue
		}
		if state.Unchanged(rec, entry.MtimeSec, entry.MtimeNsec, entry.Size) {
			delete(byPath, rec.Path)
		}
	}
	for _, entry := range byPath {
		_, known := st.Get(entry.RelPath)
		jobs = append(jobs, fileJob{entry: entry, modified: known})
	}

	// Purge index rows with no state record: leftovers of a crash
	// between index commit and state persist.
	if err := idx.reconcile(ctx, t, st, entries); err != nil {
		log.Printf("[INDEXER] %s: reconcile: %v", t.Project.ID, err)
	}

	// Read, hash, and chunk candidates in parallel.
	results := make([]fileResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.cfg.Workers)
	for i := range jobs {
		i := i
		g.Go(func() error {
			results[i] = idx.prepareFile(gctx, t, st, jobs[i])
			progress.Store(time.Now().UnixNano())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("indexer: %w: %w", types.ErrCancelled, err)
	}

	// Index writes are sequential: SQLite has a single writer and the
	// per-batch rollback needs deterministic grouping.
	var pending []fileResult
	for _, res := range results {
		switch {
		case res.err != nil:
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", res.job.entry.RelPath, res.err))
			continue
		case res.skipped:
			continue
		case res.hash != "":
			rec, known := st.Get(res.job.entry.RelPath)
			if known && rec.Hash == res.hash && len(res.chunks) == 0 {
				// mtime or size moved but content did not: refresh the
				// fingerprint without reindexing.
				rec.MtimeSec = res.job.entry.MtimeSec
				rec.MtimeNsec = res.job.entry.MtimeNsec
				rec.Size = res.job.entry.Size
				st.Put(rec)
				continue
			}
		}
		pending = append(pending, res)
	}

	// Flush in embed-batch bounded groups.
	for len(pending) > 0 {
		batch := takeBatch(&pending, idx.cfg.EmbedBatch)
		if err := idx.flushBatch(ctx, t, st, batch, &stats, &progress); err != nil {
			return stats, err
		}
	}

	if err := st.Persist(); err != nil {
		return stats, fmt.Errorf("indexer: persist state: %w", err)
	}
	if t.Vector != nil {
		if t.Vector.NeedsCompact() {
			t.Vector.Compact()
		}
		if err := t.Vector.Persist(); err != nil {
			return stats, fmt.Errorf("indexer: persist vectors: %w", err)
		}
	}
	if t.Watcher != nil {
		t.Watcher.ClearDirty()
	}

	stats.Duration = time.Since(start).Milliseconds()
	return stats, nil
}

// prepareFile reads and chunks one candidate file. The snapshot entry may
// be stale; files that vanished or crossed the caps since are skipped.
func (idx *Indexer) prepareFile(ctx context.Context, t Target, st *state.State, job fileJob) fileResult {
	res := fileResult{job: job}
	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}

	full := filepath.Join(t.Project.Root, filepath.FromSlash(job.entry.RelPath))
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			res.skipped = true
			return res
		}
		res.err = err
		return res
	}
	if int64(len(data)) > scanner.MaxFileSize {
		res.skipped = true
		return res
	}

	sum := sha256.Sum256(data)
	res.hash = hex.EncodeToString(sum[:])

	// Content identical to the stored record: no re-chunking needed.
	if rec, ok := st.Get(job.entry.RelPath); ok && rec.Hash == res.hash {
		return res
	}

	chunks, err := chunker.Chunk(t.Project.ID, job.entry.RelPath, data, job.entry.Kind)
	if err != nil {
		res.err = err
		return res
	}
	res.chunks = chunks
	return res
}

// flushBatch writes one group of files to the indexes. The embedding call
// covers the whole group; on failure after retries the group's keyword
// upserts are rolled back and the files surface in stats.Errors, leaving
// their state untouched so the next pass retries them.
func (idx *Indexer) flushBatch(ctx context.Context, t Target, st *state.State, batch []fileResult, stats *types.ChangeStats, progress *atomic.Int64) error {
	var texts []string
	var metas []vector.Meta

	for _, res := range batch {
		path := res.job.entry.RelPath
		if res.job.modified {
			if err := idx.deleteFile(ctx, t, path); err != nil {
				return err
			}
		}
		if err := t.Keyword.UpsertChunks(ctx, res.chunks); err != nil {
			return fmt.Errorf("indexer: keyword upsert %s: %w", path, err)
		}
		for _, c := range res.chunks {
			texts = append(texts, c.Text)
			metas = append(metas, vector.Meta{
				ID:        c.ID,
				Path:      c.Path,
				StartLine: c.StartLine,
				EndLine:   c.EndLine,
			})
		}
	}

	if t.Vector != nil && t.Embedder != nil && len(texts) > 0 {
		vecs, err := t.Embedder.Embed(ctx, texts)
		if err != nil {
			// Roll the batch's keyword rows back; the files stay
			// "modified" and retry next pass.
			for _, res := range batch {
				path := res.job.entry.RelPath
				if delErr := t.Keyword.DeleteByFile(ctx, path); delErr != nil {
					log.Printf("[INDEXER] %s: rollback %s: %v", t.Project.ID, path, delErr)
				}
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s: embed: %v", path, err))
			}
			log.Printf("[INDEXER] %s: embed batch failed, rolled back %d files: %v",
				t.Project.ID, len(batch), err)
			return nil
		}
		if err := t.Vector.Upsert(metas, vecs); err != nil {
			return fmt.Errorf("indexer: vector upsert: %w", err)
		}
	}

	now := time.Now().UTC()
	for _, res := range batch {
		entry := res.job.entry
		st.Put(types.FileRecord{
			Path:      entry.RelPath,
			MtimeSec:  entry.MtimeSec,
			MtimeNsec: entry.MtimeNsec,
			Size:      entry.Size,
			Hash:      res.hash,
			IndexedAt: now,
		})
		if res.job.modified {
			stats.Modified++
		} else {
			stats.Added++
		}
		progress.Store(time.Now().UnixNano())

		// Symbol extraction is best-effort: a parse failure skips the
		// file for symbols only.
		idx.indexSymbols(ctx, t, entry.RelPath)
	}
	return nil
}

func (idx *Indexer) indexSymbols(ctx context.Context, t Target, relPath string) {
	if t.Symbols == nil || !t.Symbols.Supported(relPath) {
		return
	}
	full := filepath.Join(t.Project.Root, filepath.FromSlash(relPath))
	data, err := os.ReadFile(full)
	if err != nil {
		return
	}
	if err := t.Symbols.IndexFile(ctx, relPath, data); err != nil {
		log.Printf("[INDEXER] %s: symbols %s: %v", t.Project.ID, relPath, err)
	}
}

func (idx *Indexer) deleteFile(ctx context.Context, t Target, path string) error {
	if err := t.Keyword.DeleteByFile(ctx, path); err != nil {
		return fmt.Errorf("indexer: delete %s from keyword index: %w", path, err)
	}
	if t.Vector != nil {
		t.Vector.DeleteByFile(path)
	}
	if t.Symbols != nil {
		if err := t.Symbols.DeleteFile(ctx, path); err != nil {
			log.Printf("[INDEXER] %s: delete symbols %s: %v", t.Project.ID, path, err)
		}
	}
	return nil
}

// reconcile purges keyword rows for paths with neither a state record nor
// a working-tree file.
func (idx *Indexer) reconcile(ctx context.Context, t Target, st *state.State, entries []scanner.FileEntry) error {
	indexed, err := t.Keyword.Paths(ctx)
	if err != nil {
		return err
	}
	onDisk := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		onDisk[e.RelPath] = struct{}{}
	}
	for _, path := range indexed {
		if _, ok := st.Get(path); ok {
			continue
		}
		if _, ok := onDisk[path]; ok {
			// Freshly added file whose job runs later this pass.
			continue
		}
		if err := idx.deleteFile(ctx, t, path); err != nil {
			return err
		}
	}
	return nil
}

func takeBatch(pending *[]fileResult, embedBatch int) []fileResult {
	var batch []fileResult
	total := 0
	rest := *pending
	for len(rest) > 0 {
		n := len(rest[0].chunks)
		if len(batch) > 0 && total+n > embedBatch {
			break
		}
		batch = append(batch, rest[0])
		total += n
		rest = rest[1:]
	}
	*pending = rest
	return batch
}
