// Package core owns the long-lived engine objects and exposes the typed
// operations served over the tool protocol. There is no global mutable
// state: everything hangs off a Core constructed at startup.
package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/locussearch/locus-mcp/internal/config"
	"github.com/locussearch/locus-mcp/internal/embedder"
	"github.com/locussearch/locus-mcp/internal/indexer"
	"github.com/locussearch/locus-mcp/internal/keyword"
	"github.com/locussearch/locus-mcp/internal/llm"
	"github.com/locussearch/locus-mcp/internal/querycache"
	"github.com/locussearch/locus-mcp/internal/registry"
	"github.com/locussearch/locus-mcp/internal/rerank"
	"github.com/locussearch/locus-mcp/internal/symbols"
	"github.com/locussearch/locus-mcp/internal/vector"
	"github.com/locussearch/locus-mcp/internal/watcher"
	"github.com/locussearch/locus-mcp/pkg/types"
)

// Core is the engine context threaded into every operation.
type Core struct {
	cfg      *config.Config
	registry *registry.Registry
	embedder embedder.Embedder
	reranker *rerank.Reranker
	llm      llm.Provider // nil when unconfigured
	indexer  *indexer.Indexer

	mu      sync.Mutex
	engines map[string]*engines

	// watch enables per-project filesystem watchers.
	watch bool
}

// engines holds one project's open stores and its read/write lock.
type engines struct {
	proj    types.Project
	lock    sync.RWMutex
	keyword *keyword.Index
	vector  *vector.Index
	symbols *symbols.Index
	cache   *querycache.Cache
	watcher *watcher.Watcher

	lastCatchUp time.Time
}

// Options tune Core construction.
type Options struct {
	// Watch starts filesystem watchers for registered projects so
	// up-to-date catch-ups can skip the tree walk.
	Watch bool
}

// New constructs the engine context.
func New(cfg *config.Config, opts Options) (*Core, error) {
	reg, err := registry.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	emb := embedder.New(cfg.Embedding)

	var provider llm.Provider
	if p, err := llm.New(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model); err == nil {
		provider = p
	} else {
		log.Printf("[CORE] rerank LLM not configured: %v", err)
	}

	return &Core{
		cfg:      cfg,
		registry: reg,
		embedder: emb,
		llm:      provider,
		reranker: rerank.New(provider, cfg.Search.ChunkByteBudget),
		indexer: indexer.New(indexer.Config{
			Workers:      cfg.Indexing.Workers,
			EmbedBatch:   cfg.Embedding.BatchSize,
			IdleDeadline: cfg.CatchUpIdle(),
			Timeout:      cfg.CatchUpTimeout(),
		}),
		engines: make(map[string]*engines),
		watch:   opts.Watch,
	}, nil
}

// Close releases every open store.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.engines {
		c.closeEngines(e)
		delete(c.engines, id)
	}
	return nil
}

func (c *Core) closeEngines(e *engines) {
	if e.keyword != nil {
		_ = e.keyword.Close()
	}
	if e.symbols != nil {
		_ = e.symbols.Close()
	}
	if e.cache != nil {
		_ = e.cache.Close()
	}
	if e.watcher != nil {
		_ = e.watcher.Close()
	}
}

// Registry exposes the project registry (read-only use by the CLI).
func (c *Core) Registry() *registry.Registry { return c.registry }

// Resolve maps a selector plus optional caller working directory to a
// project.
func (c *Core) Resolve(selector, workingDir string) (types.Project, error) {
	return c.registry.Resolve(selector, workingDir)
}

// enginesFor lazily opens a project's stores. A store that fails schema
// validation flags the project needs-rebuild and surfaces ErrCorrupt.
func (c *Core) enginesFor(proj types.Project) (*engines, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.engines[proj.ID]; ok {
		e.proj = proj
		return e, nil
	}

	dir := c.registry.ProjectDir(proj.ID)

	// A project flagged needs-rebuild gets fresh stores; the rebuild
	// that follows re-indexes from the working tree.
	if proj.NeedsRebuild {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("core: reset %s: %w", proj.ID, err)
		}
	}

	e := &engines{proj: proj}

	kw, err := keyword.Open(filepath.Join(dir, "keyword.db"))
	if err != nil {
		return nil, c.markCorrupt(proj, err)
	}
	e.keyword = kw

	if proj.EmbeddingDim > 0 {
		vec, err := vector.Open(
			filepath.Join(dir, "vector.idx"),
			filepath.Join(dir, "vector.meta.jsonl"),
			proj.EmbeddingDim,
		)
		if err != nil {
			_ = kw.Close()
			return nil, c.markCorrupt(proj, err)
		}
		e.vector = vec
	}

	sym, err := symbols.Open(filepath.Join(dir, "symbols.db"))
	if err != nil {
		c.closeEngines(e)
		return nil, c.markCorrupt(proj, err)
	}
	e.symbols = sym

	cache, err := querycache.Open(dir, proj.ID, querycache.Options{
		TTL:               c.cfg.CacheTTL(),
		MaxEntries:        c.cfg.Cache.MaxEntries,
		SemanticThreshold: c.cfg.Cache.SemanticThreshold,
		Dim:               proj.EmbeddingDim,
	})
	if err != nil {
		c.closeEngines(e)
		return nil, c.markCorrupt(proj, err)
	}
	e.cache = cache

	if c.watch {
		w := watcher.New(proj.Root)
		if err := w.Start(); err != nil {
			log.Printf("[CORE] watcher for %s: %v", proj.ID, err)
		} else {
			e.watcher = w
		}
	}

	c.engines[proj.ID] = e
	return e, nil
}

// markCorrupt records the needs-rebuild flag; reads fail until a rebuild.
func (c *Core) markCorrupt(proj types.Project, err error) error {
	if errors.Is(err, types.ErrCorrupt) {
		proj.NeedsRebuild = true
		if uerr := c.registry.Update(proj); uerr != nil {
			log.Printf("[CORE] flag rebuild for %s: %v", proj.ID, uerr)
		}
		return fmt.Errorf("core: project %s: %w", proj.ID, err)
	}
	return err
}

func (c *Core) target(e *engines) indexer.Target {
	// A project's dimension is frozen at creation; an embedder that no
	// longer matches it (remote/local swap) suspends vector indexing
	// rather than poisoning the index.
	emb := c.embedder
	if emb != nil && e.proj.EmbeddingDim > 0 && emb.Dim() != e.proj.EmbeddingDim {
		emb = nil
	}
	return indexer.Target{
		Project:   e.proj,
		StatePath: filepath.Join(c.registry.ProjectDir(e.proj.ID), "state.jsonl"),
		Keyword:   e.keyword,
		Vector:    e.vector,
		Symbols:   e.symbols,
		Embedder:  emb,
		Watcher:   e.watcher,
		Lock:      &e.lock,
	}
}

// CatchUp brings one project up to date (index path entry point).
func (c *Core) CatchUp(ctx context.Context, selector, workingDir string) (types.ChangeStats, error) {
	proj, err := c.Resolve(selector, workingDir)
	if err != nil {
		return types.ChangeStats{}, err
	}
	e, err := c.enginesFor(proj)
	if err != nil {
		return types.ChangeStats{}, err
	}
	return c.catchUp(ctx, e)
}

func (c *Core) catchUp(ctx context.Context, e *engines) (types.ChangeStats, error) {
	if e.proj.NeedsRebuild {
		// Writes against a corrupt project trigger a rebuild instead.
		return c.rebuild(ctx, e, false)
	}
	stats, err := c.indexer.CatchUp(ctx, c.target(e))
	if errors.Is(err, types.ErrCorrupt) {
		// A half-written state file is recovered by rebuilding, not by
		// failing the process.
		log.Printf("[CORE] %s: corrupt state, rebuilding: %v", e.proj.ID, err)
		return c.rebuild(ctx, e, false)
	}
	if err != nil {
		return stats, err
	}
	e.lastCatchUp = time.Now().UTC()
	return stats, nil
}

// AddProject registers a working tree and freezes its embedding dimension
// to the current embedder's.
func (c *Core) AddProject(name, path string) (types.Project, error) {
	dim := 0
	if c.embedder != nil {
		dim = c.embedder.Dim()
	}
	return c.registry.Add(name, path, dim)
}

// ActivateProject flags one project active.
func (c *Core) ActivateProject(selector string) (types.Project, error) {
	return c.registry.Activate(selector)
}

// ListProjects returns all registered projects.
func (c *Core) ListProjects() []types.Project {
	return c.registry.List()
}

// RemoveProject unregisters a project and purges its derived indexes. The
// project write lock is held so in-flight reads drain first.
func (c *Core) RemoveProject(selector string) (types.Project, error) {
	proj, err := c.Resolve(selector, "")
	if err != nil {
		return types.Project{}, err
	}

	c.mu.Lock()
	e, open := c.engines[proj.ID]
	delete(c.engines, proj.ID)
	c.mu.Unlock()

	if open {
		e.lock.Lock()
		c.closeEngines(e)
		e.lock.Unlock()
	}
	return c.registry.Remove(proj.ID)
}
