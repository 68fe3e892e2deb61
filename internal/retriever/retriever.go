// Package retriever fuses keyword and vector search into a deduplicated
// candidate list, degrading to keyword-only when the vector side is
// unavailable.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/locussearch/locus-mcp/internal/embedder"
	"github.com/locussearch/locus-mcp/internal/keyword"
	"github.com/locussearch/locus-mcp/internal/vector"
	"github.com/locussearch/locus-mcp/pkg/types"
)

const (
	// overFetchFactor is how many candidates each sub-search returns
	// relative to the requested k.
	overFetchFactor = 3

	// maxChunksPerFile bounds per-file results after dedup.
	maxChunksPerFile = 2
)

// Retriever runs the hybrid search for one project.
type Retriever struct {
	kw    *keyword.Index
	vec   *vector.Index // nil when vector indexing is disabled
	emb   embedder.Embedder
	alpha float64 // keyword weight
	beta  float64 // vector weight
}

// Result is the retrieval outcome plus the query embedding (reused by the
// caller for the semantic cache).
type Result struct {
	Candidates      []types.Candidate
	DegradedReasons []string
	QueryVec        []float32
}

// New creates a Retriever. vec and emb may be nil for keyword-only
// projects.
func New(kw *keyword.Index, vec *vector.Index, emb embedder.Embedder, alpha, beta float64) *Retriever {
	if alpha <= 0 && beta <= 0 {
		alpha, beta = 0.5, 0.5
	}
	return &Retriever{kw: kw, vec: vec, emb: emb, alpha: alpha, beta: beta}
}

// Search returns at most 3k fused candidates with at most two chunks per
// source path. An empty query yields an empty list without touching the
// embedder.
func (r *Retriever) Search(ctx context.Context, query string, k int, useVector bool) (Result, error) {
	var res Result
	if query == "" || k <= 0 {
		return res, nil
	}
	overFetch := k * overFetchFactor

	type kwOut struct {
		hits []types.Candidate
		err  error
	}
	type vecOut struct {
		hits []vector.Hit
		qv   []float32
		err  error
	}
	kwCh := make(chan kwOut, 1)
	vecCh := make(chan vecOut, 1)

	go func() {
		hits, err := r.kw.Search(ctx, query, overFetch)
		kwCh <- kwOut{hits: hits, err: err}
	}()

	vectorWanted := useVector && r.vec != nil && r.emb != nil
	if vectorWanted {
		go func() {
			vecs, err := r.emb.Embed(ctx, []string{query})
			if err != nil {
				vecCh <- vecOut{err: fmt.Errorf("embed: %w", err)}
				return
			}
			hits, err := r.vec.Search(vecs[0], overFetch)
			vecCh <- vecOut{hits: hits, qv: vecs[0], err: err}
		}()
	}

	kwRes := <-kwCh
	if kwRes.err != nil {
		return res, fmt.Errorf("retriever: keyword search: %w: %w", types.ErrUnavailable, kwRes.err)
	}

	var vecRes vecOut
	if vectorWanted {
		select {
		case vecRes = <-vecCh:
		case <-ctx.Done():
			return res, ctx.Err()
		}
		res.QueryVec = vecRes.qv
		if vecRes.err != nil {
			res.DegradedReasons = append(res.DegradedReasons, classifyVectorFailure(vecRes.err))
			vecRes.hits = nil
		}
	} else if useVector {
		res.DegradedReasons = append(res.DegradedReasons, types.DegradedVectorUnavailable)
	}

	merged, err := r.merge(ctx, kwRes.hits, vecRes.hits, len(res.DegradedReasons) > 0 || !vectorWanted)
	if err != nil {
		return res, err
	}

	res.Candidates = dedupByFile(merged, overFetch)
	return res, nil
}

// classifyVectorFailure separates embedder outages from vector-index
// failures for the degraded-reasons list.
func classifyVectorFailure(err error) string {
	var dm *types.DimensionMismatchError
	if types.IsTransient(err) || errors.As(err, &dm) {
		return types.DegradedEmbedderUnavailable
	}
	return types.DegradedVectorUnavailable
}

// merge joins the two hit lists by chunk id. Keyword scores are normalized
// by the in-list maximum. In keyword-only mode the fused score is the
// normalized keyword score itself.
func (r *Retriever) merge(ctx context.Context, kwHits []types.Candidate, vecHits []vector.Hit, keywordOnly bool) ([]types.Candidate, error) {
	var maxKw float64
	for _, h := range kwHits {
		if h.KeywordScore != nil && *h.KeywordScore > maxKw {
			maxKw = *h.KeywordScore
		}
	}
	normKw := func(score float64) float64 {
		if maxKw > 0 {
			return score / maxKw
		}
		return 0
	}

	byID := make(map[string]*types.Candidate, len(kwHits)+len(vecHits))
	for i := range kwHits {
		c := kwHits[i]
		norm := normKw(*c.KeywordScore)
		c.KeywordScore = &norm
		if keywordOnly {
			c.FusedScore = norm
		} else {
			c.FusedScore = r.alpha * norm
		}
		byID[c.ChunkID] = &c
	}

	// Vector hits carry no text; hydrate misses from the keyword store.
	var needText []string
	for _, h := range vecHits {
		if _, ok := byID[h.ID]; !ok {
			needText = append(needText, h.ID)
		}
	}
	var hydrated map[string]types.Candidate
	if len(needText) > 0 {
		var err error
		hydrated, err = r.kw.GetByIDs(ctx, needText)
		if err != nil {
			return nil, fmt.Errorf("retriever: hydrate: %w", err)
		}
	}

	for _, h := range vecHits {
		score := h.Score
		if c, ok := byID[h.ID]; ok {
			c.VectorScore = &score
			c.FusedScore += r.beta * score
			continue
		}
		c, ok := hydrated[h.ID]
		if !ok {
			// Vector entry without a keyword row: pending reconciliation
			// after a partial catch-up. Skip rather than emit textless
			// candidates.
			continue
		}
		c.VectorScore = &score
		c.FusedScore = r.beta * score
		byID[h.ID] = &c
	}

	out := make([]types.Candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	return out, nil
}

// dedupByFile sorts by fused score descending (ties by chunk id ascending)
// and keeps at most two chunks per source path and at most limit total.
func dedupByFile(cands []types.Candidate, limit int) []types.Candidate {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].FusedScore != cands[j].FusedScore {
			return cands[i].FusedScore > cands[j].FusedScore
		}
		return cands[i].ChunkID < cands[j].ChunkID
	})

	perFile := make(map[string]int)
	out := make([]types.Candidate, 0, len(cands))
	for _, c := range cands {
		if perFile[c.Path] >= maxChunksPerFile {
			continue
		}
		perFile[c.Path]++
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}
