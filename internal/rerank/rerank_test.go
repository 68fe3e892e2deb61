package rerank

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locussearch/locus-mcp/internal/llm"
	"github.com/locussearch/locus-mcp/pkg/types"
)

// scriptedProvider returns canned responses or errors in order.
type scriptedProvider struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return &llm.CompletionResponse{Content: s.responses[i]}, nil
	}
	return nil, errors.New("no more responses")
}

func mkCandidates(n int) []types.Candidate {
	out := make([]types.Candidate, n)
	for i := range out {
		out[i] = types.Candidate{
			ChunkID:    fmt.Sprintf("p:f%d.go:0", i),
			Path:       fmt.Sprintf("f%d.go", i),
			StartLine:  1,
			EndLine:    10,
			Text:       fmt.Sprintf("func Thing%d() {}", i),
			FusedScore: 1.0 / float64(i+1),
		}
	}
	return out
}

func TestRerank_LLMOrderPreserved(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"selected":[{"id":"p:f3.go:0","reason":"best"},{"id":"p:f1.go:0","reason":"good"}]}`,
	}}
	r := New(p, 0)

	out, reason := r.Rerank(context.Background(), "query", mkCandidates(6), 2)
	assert.Empty(t, reason)
	require.Len(t, out, 2)
	assert.Equal(t, "p:f3.go:0", out[0].ChunkID)
	assert.Equal(t, "p:f1.go:0", out[1].ChunkID)
}

func TestRerank_HallucinatedIDsIgnored(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		`{"selected":[{"id":"p:nonexistent.go:9"},{"id":"p:f0.go:0"}]}`,
	}}
	r := New(p, 0)

	out, reason := r.Rerank(context.Background(), "q", mkCandidates(4), 3)
	assert.Empty(t, reason)
	require.Len(t, out, 1)
	assert.Equal(t, "p:f0.go:0", out[0].ChunkID)
}

func TestRerank_ParseFailureFailsOpen(t *testing.T) {
	p := &scriptedProvider{responses: []string{"not json at all"}}
	r := New(p, 0)

	cands := mkCandidates(6)
	out, reason := r.Rerank(context.Background(), "q", cands, 3)
	assert.Equal(t, types.DegradedRerankUnavailable, reason)
	require.Len(t, out, 3)
	assert.Equal(t, cands[0].ChunkID, out[0].ChunkID, "fused-score order preserved on fail-open")
}

func TestRerank_RetriesThenFailsOpen(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		errors.New("boom"), errors.New("boom"), errors.New("boom"),
	}}
	r := New(p, 0)

	out, reason := r.Rerank(context.Background(), "q", mkCandidates(5), 2)
	assert.Equal(t, types.DegradedRerankUnavailable, reason)
	assert.Len(t, out, 2)
	assert.Equal(t, 3, p.calls, "initial try plus two retries")
}

func TestRerank_RetrySucceeds(t *testing.T) {
	p := &scriptedProvider{
		errs:      []error{errors.New("transient"), nil},
		responses: []string{"", `{"selected":[{"id":"p:f2.go:0"}]}`},
	}
	r := New(p, 0)

	out, reason := r.Rerank(context.Background(), "q", mkCandidates(5), 2)
	assert.Empty(t, reason)
	require.Len(t, out, 1)
	assert.Equal(t, "p:f2.go:0", out[0].ChunkID)
}

func TestRerank_NilProvider(t *testing.T) {
	r := New(nil, 0)
	out, reason := r.Rerank(context.Background(), "q", mkCandidates(5), 2)
	assert.Equal(t, types.DegradedRerankUnavailable, reason)
	assert.Len(t, out, 2)
}

func TestRerank_SmallCandidateSetSkipsLLM(t *testing.T) {
	p := &scriptedProvider{}
	r := New(p, 0)
	out, reason := r.Rerank(context.Background(), "q", mkCandidates(2), 5)
	assert.Empty(t, reason)
	assert.Len(t, out, 2)
	assert.Zero(t, p.calls)
}

func TestRerank_ChunkTextTruncatedInPrompt(t *testing.T) {
	r := New(&scriptedProvider{}, 16)
	cands := mkCandidates(2)
	cands[0].Text = "0123456789abcdefghijklmnop"
	prompt := r.buildPrompt("q", cands, 1)
	assert.Contains(t, prompt, "0123456789abcdef")
	assert.NotContains(t, prompt, "ghijklmnop")
}

func TestParseSelection_CodeFence(t *testing.T) {
	ids, ok := parseSelection("```json\n{\"selected\":[{\"id\":\"a:b.go:0\"}]}\n```")
	require.True(t, ok)
	assert.Equal(t, []string{"a:b.go:0"}, ids)
}
