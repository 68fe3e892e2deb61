package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/locussearch/locus-mcp/internal/files"
	"github.com/locussearch/locus-mcp/internal/llm"
	"github.com/locussearch/locus-mcp/internal/querycache"
	"github.com/locussearch/locus-mcp/internal/retriever"
	"github.com/locussearch/locus-mcp/pkg/types"
)

// MaxK bounds the caller-supplied k.
const MaxK = 50

func clampK(k int) int {
	if k <= 0 {
		return 8
	}
	if k > MaxK {
		return MaxK
	}
	return k
}

// SearchParams are the rag.search inputs.
type SearchParams struct {
	Selector   string
	WorkingDir string
	Query      string
	K          int
	UseVector  bool
	AutoIndex  bool
}

// RagSearch is the query-path entry point: resolve, catch up, consult the
// cache, run the hybrid retrieval, fill the cache.
func (c *Core) RagSearch(ctx context.Context, p SearchParams) (*types.SearchResult, error) {
	if strings.TrimSpace(p.Query) == "" {
		return &types.SearchResult{}, nil
	}
	k := clampK(p.K)

	proj, err := c.Resolve(p.Selector, p.WorkingDir)
	if err != nil {
		return nil, err
	}
	if proj.NeedsRebuild {
		return nil, fmt.Errorf("core: project %s needs rebuild: %w", proj.ID, types.ErrCorrupt)
	}
	e, err := c.enginesFor(proj)
	if err != nil {
		return nil, err
	}

	if p.AutoIndex {
		if _, err := c.catchUp(ctx, e); err != nil {
			// An un-catchable tree still serves reads from the last
			// committed state.
			log.Printf("[CORE] %s: catch-up before search: %v", proj.ID, err)
		}
	}

	e.lock.RLock()
	defer e.lock.RUnlock()

	// Exact tier first; the semantic tier needs the query embedding,
	// which the retriever computes anyway, so it is consulted with a
	// cheap pre-embed (served from the embedder's LRU on the re-embed).
	if res, ok := e.cache.Get(ctx, p.Query, k, nil); ok {
		return res, nil
	}
	var qvec []float32
	if p.UseVector && e.vector != nil && c.embedder != nil {
		if vecs, err := c.embedder.Embed(ctx, []string{p.Query}); err == nil {
			qvec = vecs[0]
			if res, ok := e.cache.Get(ctx, p.Query, k, qvec); ok {
				return res, nil
			}
		}
	}

	r := retriever.New(e.keyword, e.vector, c.embedder,
		c.cfg.Search.KeywordWeight, c.cfg.Search.VectorWeight)
	rres, err := r.Search(ctx, p.Query, k, p.UseVector)
	if err != nil {
		return nil, err
	}

	out := &types.SearchResult{
		Candidates:      rres.Candidates,
		DegradedReasons: rres.DegradedReasons,
	}
	if len(out.Candidates) > k {
		out.Candidates = out.Candidates[:k]
	}

	// Only clean results are cached; degraded ones would otherwise mask
	// recovery for a full TTL.
	if !out.Degraded() {
		e.cache.Put(ctx, p.Query, k, rres.QueryVec, *out)
	}
	return out, nil
}

// AnswerParams are the answer.generate inputs.
type AnswerParams struct {
	Selector   string
	WorkingDir string
	Query      string
	K          int
	Rerank     bool
	Accumulate bool
}

// AnswerGenerate runs retrieval with optional LLM rerank and, in
// accumulate mode, multi-query retrieval plus answer synthesis.
func (c *Core) AnswerGenerate(ctx context.Context, p AnswerParams) (*types.SearchResult, error) {
	if strings.TrimSpace(p.Query) == "" {
		return &types.SearchResult{}, nil
	}
	k := clampK(p.K)

	proj, err := c.Resolve(p.Selector, p.WorkingDir)
	if err != nil {
		return nil, err
	}
	if proj.NeedsRebuild {
		return nil, fmt.Errorf("core: project %s needs rebuild: %w", proj.ID, types.ErrCorrupt)
	}
	e, err := c.enginesFor(proj)
	if err != nil {
		return nil, err
	}
	if _, err := c.catchUp(ctx, e); err != nil {
		log.Printf("[CORE] %s: catch-up before answer: %v", proj.ID, err)
	}

	e.lock.RLock()
	defer e.lock.RUnlock()

	queries := []string{p.Query}
	if p.Accumulate {
		queries = append(queries, c.decomposeQuery(ctx, p.Query)...)
	}

	r := retriever.New(e.keyword, e.vector, c.embedder,
		c.cfg.Search.KeywordWeight, c.cfg.Search.VectorWeight)

	out := &types.SearchResult{}
	seen := make(map[string]struct{})
	var merged []types.Candidate
	for _, q := range queries {
		rres, err := r.Search(ctx, q, k, true)
		if err != nil {
			return nil, err
		}
		for _, reason := range rres.DegradedReasons {
			out.AddDegraded(reason)
		}
		for _, cand := range rres.Candidates {
			if _, dup := seen[cand.ChunkID]; dup {
				continue
			}
			seen[cand.ChunkID] = struct{}{}
			merged = append(merged, cand)
		}
	}

	if p.Rerank {
		reranked, reason := c.reranker.Rerank(ctx, p.Query, merged, k)
		if reason != "" {
			out.AddDegraded(reason)
		}
		out.Candidates = reranked
	} else {
		if len(merged) > k {
			merged = merged[:k]
		}
		out.Candidates = merged
	}

	if p.Accumulate && c.llm != nil && len(out.Candidates) > 0 {
		if answer, err := c.synthesizeAnswer(ctx, p.Query, out.Candidates); err == nil {
			out.Answer = answer
		} else {
			out.AddDegraded(types.DegradedRerankUnavailable)
		}
	}
	return out, nil
}

// decomposeQuery asks the LLM for up to three sub-queries covering the
// question from different angles. Failure quietly falls back to the
// original query alone.
func (c *Core) decomposeQuery(ctx context.Context, query string) []string {
	if c.llm == nil {
		return nil
	}
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: `Decompose the question into at most 3 focused code-search queries.
Respond with JSON only: {"queries": ["...", "..."]}.`},
			{Role: llm.RoleUser, Content: query},
		},
		MaxTokens:   200,
		Temperature: 0.1,
		JSONMode:    true,
	})
	if err != nil {
		return nil
	}
	var parsed struct {
		Queries []string `json:"queries"`
	}
	raw := resp.Content
	if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			raw = raw[i : j+1]
		}
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}
	if len(parsed.Queries) > 3 {
		parsed.Queries = parsed.Queries[:3]
	}
	return parsed.Queries
}

func (c *Core) synthesizeAnswer(ctx context.Context, query string, candidates []types.Candidate) (string, error) {
	var sb strings.Builder
	for _, cand := range candidates {
		text := cand.Text
		if len(text) > c.cfg.Search.ChunkByteBudget {
			text = text[:c.cfg.Search.ChunkByteBudget]
		}
		fmt.Fprintf(&sb, "%s:%d-%d\n%s\n\n", cand.Path, cand.StartLine, cand.EndLine, text)
	}
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Answer the question using only the provided code excerpts. Cite paths and line ranges."},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Question: %s\n\nExcerpts:\n\n%s", query, sb.String())},
		},
		MaxTokens:   1200,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// IndexStatus reports a project's index counts.
func (c *Core) IndexStatus(ctx context.Context, selector, workingDir string) (types.IndexStatus, error) {
	proj, err := c.Resolve(selector, workingDir)
	if err != nil {
		return types.IndexStatus{}, err
	}
	e, err := c.enginesFor(proj)
	if err != nil {
		return types.IndexStatus{}, err
	}

	e.lock.RLock()
	defer e.lock.RUnlock()

	chunks, err := e.keyword.Count(ctx)
	if err != nil {
		return types.IndexStatus{}, err
	}
	paths, err := e.keyword.Paths(ctx)
	if err != nil {
		return types.IndexStatus{}, err
	}
	st := types.IndexStatus{
		ProjectID:     proj.ID,
		FilesIndexed:  len(paths),
		ChunksIndexed: chunks,
		LastCatchUp:   e.lastCatchUp,
	}
	if e.vector != nil {
		st.VectorsIndexed = e.vector.Count()
	}
	return st, nil
}

// IndexRebuild drops and rebuilds a project's indexes.
func (c *Core) IndexRebuild(ctx context.Context, selector, workingDir string, dropVectors bool) (types.ChangeStats, error) {
	proj, err := c.Resolve(selector, workingDir)
	if err != nil {
		return types.ChangeStats{}, err
	}
	e, err := c.enginesFor(proj)
	if err != nil {
		return types.ChangeStats{}, err
	}
	return c.rebuild(ctx, e, dropVectors)
}

func (c *Core) rebuild(ctx context.Context, e *engines, dropVectors bool) (types.ChangeStats, error) {
	e.lock.Lock()
	err := func() error {
		if err := e.keyword.Rebuild(ctx); err != nil {
			return err
		}
		if err := e.symbols.Rebuild(ctx); err != nil {
			return err
		}
		if e.vector != nil && dropVectors {
			// Without drop-vectors the entries survive: they are
			// content-addressed by chunk id and replaced on re-upsert.
			e.vector.Clear()
			if err := e.vector.Persist(); err != nil {
				return err
			}
		}
		statePath := filepath.Join(c.registry.ProjectDir(e.proj.ID), "state.jsonl")
		if err := os.Remove(statePath); err != nil && !os.IsNotExist(err) {
			return err
		}
		if e.watcher != nil {
			e.watcher.MarkDirty()
		}
		return nil
	}()
	e.lock.Unlock()
	if err != nil {
		return types.ChangeStats{}, fmt.Errorf("core: rebuild %s: %w", e.proj.ID, err)
	}

	if e.proj.NeedsRebuild {
		e.proj.NeedsRebuild = false
		if err := c.registry.Update(e.proj); err != nil {
			return types.ChangeStats{}, err
		}
	}

	stats, err := c.indexer.CatchUp(ctx, c.target(e))
	if err != nil {
		return stats, err
	}
	e.lastCatchUp = time.Now().UTC()
	return stats, nil
}

// CacheClear clears a project's query cache.
func (c *Core) CacheClear(ctx context.Context, selector, workingDir string, scope querycache.Scope) error {
	proj, err := c.Resolve(selector, workingDir)
	if err != nil {
		return err
	}
	e, err := c.enginesFor(proj)
	if err != nil {
		return err
	}
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.cache.Clear(ctx, scope)
}

// CacheStatus reports per-tier cache entry counts.
func (c *Core) CacheStatus(ctx context.Context, selector, workingDir string) (types.CacheStatus, error) {
	proj, err := c.Resolve(selector, workingDir)
	if err != nil {
		return types.CacheStatus{}, err
	}
	e, err := c.enginesFor(proj)
	if err != nil {
		return types.CacheStatus{}, err
	}
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.cache.Status(ctx), nil
}

// Symbols lists the definitions in one file of the resolved project.
func (c *Core) Symbols(ctx context.Context, selector, workingDir, path string) ([]types.SymbolInfo, error) {
	e, err := c.readEngines(selector, workingDir)
	if err != nil {
		return nil, err
	}
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.symbols.Symbols(ctx, path)
}

// FindSymbol searches definitions by name and optional kind.
func (c *Core) FindSymbol(ctx context.Context, selector, workingDir, name string, kind types.SymbolKind) ([]types.SymbolInfo, error) {
	e, err := c.readEngines(selector, workingDir)
	if err != nil {
		return nil, err
	}
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.symbols.FindDefinition(ctx, name, kind)
}

// References lists AST-matched reference sites for a name.
func (c *Core) References(ctx context.Context, selector, workingDir, name string) ([]types.Reference, error) {
	e, err := c.readEngines(selector, workingDir)
	if err != nil {
		return nil, err
	}
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.symbols.FindReferences(ctx, name)
}

// SearchPattern runs a regex over the project's text files.
func (c *Core) SearchPattern(selector, workingDir, pattern string, limit int) ([]files.PatternMatch, error) {
	proj, err := c.Resolve(selector, workingDir)
	if err != nil {
		return nil, err
	}
	return files.SearchPattern(proj.Root, pattern, 2, limit)
}

// FileRead reads a line range of a project file.
func (c *Core) FileRead(selector, workingDir, path string, startLine, endLine int) (*files.ReadResult, error) {
	proj, err := c.Resolve(selector, workingDir)
	if err != nil {
		return nil, err
	}
	return files.Read(proj.Root, path, startLine, endLine, 0)
}

// FileList lists a project directory.
func (c *Core) FileList(selector, workingDir, path string) ([]string, error) {
	proj, err := c.Resolve(selector, workingDir)
	if err != nil {
		return nil, err
	}
	return files.List(proj.Root, path, 0)
}

// FileFind matches project files against a glob.
func (c *Core) FileFind(selector, workingDir, glob string) ([]string, error) {
	proj, err := c.Resolve(selector, workingDir)
	if err != nil {
		return nil, err
	}
	return files.Find(proj.Root, glob, 0)
}

func (c *Core) readEngines(selector, workingDir string) (*engines, error) {
	proj, err := c.Resolve(selector, workingDir)
	if err != nil {
		return nil, err
	}
	if proj.NeedsRebuild {
		return nil, fmt.Errorf("core: project %s needs rebuild: %w", proj.ID, types.ErrCorrupt)
	}
	return c.enginesFor(proj)
}
