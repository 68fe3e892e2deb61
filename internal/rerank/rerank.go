// Package rerank trims a candidate list to a final top-K with a fast LLM.
// Failures fail open: the caller gets the fused-score prefix plus a
// degraded reason.
package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/locussearch/locus-mcp/internal/llm"
	"github.com/locussearch/locus-mcp/pkg/types"
)

const (
	// Timeout bounds the whole rerank call.
	Timeout = 30 * time.Second

	maxAttempts  = 3 // initial try + 2 retries
	retryBackoff = 500 * time.Millisecond
)

const systemPrompt = `You rank code search results. Given a query and a numbered list of code
chunks, select the chunks that best answer the query, most relevant first.
Respond with JSON only: {"selected": [{"id": "<chunk id>", "reason": "<short justification>"}]}.
Select at most the requested number of chunks. Use only ids from the list.`

// Reranker orders candidates by LLM-judged relevance.
type Reranker struct {
	provider llm.Provider
	// chunkByteBudget hard-truncates each chunk's text in the prompt so
	// the total fits the provider's input window.
	chunkByteBudget int
}

// New creates a Reranker. provider may be nil, in which case every call
// fails open immediately.
func New(provider llm.Provider, chunkByteBudget int) *Reranker {
	if chunkByteBudget <= 0 {
		chunkByteBudget = 2048
	}
	return &Reranker{provider: provider, chunkByteBudget: chunkByteBudget}
}

// Rerank returns at most finalK candidates in LLM order. On any failure the
// first finalK candidates are returned in their incoming (fused-score)
// order and the degraded reason is non-empty.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []types.Candidate, finalK int) (out []types.Candidate, degradedReason string) {
	if finalK <= 0 || len(candidates) == 0 {
		return nil, ""
	}
	if len(candidates) <= finalK {
		// Nothing to trim; skip the LLM round-trip.
		return candidates, ""
	}
	if r.provider == nil {
		return candidates[:finalK], types.DegradedRerankUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	prompt := r.buildPrompt(query, candidates, finalK)

	var resp *llm.CompletionResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err = r.provider.Complete(ctx, llm.CompletionRequest{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: systemPrompt},
				{Role: llm.RoleUser, Content: prompt},
			},
			MaxTokens:   800,
			Temperature: 0.1,
			JSONMode:    true,
		})
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return candidates[:finalK], types.DegradedRerankTimeout
		}
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return candidates[:finalK], types.DegradedRerankTimeout
			case <-time.After(retryBackoff * time.Duration(attempt+1)):
			}
		}
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return candidates[:finalK], types.DegradedRerankTimeout
		}
		return candidates[:finalK], types.DegradedRerankUnavailable
	}

	selected, ok := parseSelection(resp.Content)
	if !ok {
		return candidates[:finalK], types.DegradedRerankUnavailable
	}

	// Intersect with the real candidate set, ignoring hallucinated ids
	// and duplicates, preserving LLM order.
	byID := make(map[string]types.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ChunkID] = c
	}
	seen := make(map[string]bool, len(selected))
	for _, id := range selected {
		if seen[id] {
			continue
		}
		seen[id] = true
		if c, exists := byID[id]; exists {
			out = append(out, c)
			if len(out) == finalK {
				break
			}
		}
	}
	if len(out) == 0 {
		return candidates[:finalK], types.DegradedRerankUnavailable
	}
	return out, ""
}

func (r *Reranker) buildPrompt(query string, candidates []types.Candidate, finalK int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nSelect the %d most relevant chunks.\n\n", query, finalK)
	for _, c := range candidates {
		text := c.Text
		if len(text) > r.chunkByteBudget {
			text = text[:r.chunkByteBudget]
		}
		fmt.Fprintf(&sb, "--- id: %s (%s:%d-%d)\n%s\n\n", c.ChunkID, c.Path, c.StartLine, c.EndLine, text)
	}
	return sb.String()
}

type selection struct {
	Selected []struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	} `json:"selected"`
}

// parseSelection extracts the ordered chunk ids from the model reply,
// tolerating surrounding prose or code fences.
func parseSelection(content string) ([]string, bool) {
	raw := content
	if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			raw = raw[i : j+1]
		}
	}
	var sel selection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return nil, false
	}
	ids := make([]string, 0, len(sel.Selected))
	for _, s := range sel.Selected {
		if s.ID != "" {
			ids = append(ids, s.ID)
		}
	}
	return ids, len(ids) > 0
}
