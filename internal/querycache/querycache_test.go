package querycache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locussearch/locus-mcp/internal/vector"
	"github.com/locussearch/locus-mcp/pkg/types"
)

func openTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	c, err := Open(t.TempDir(), "proj0001", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sampleResult() types.SearchResult {
	return types.SearchResult{
		Candidates: []types.Candidate{{
			ChunkID:    "proj0001:auth.py:0",
			Path:       "auth.py",
			StartLine:  1,
			EndLine:    2,
			Text:       "def login(): ...",
			FusedScore: 0.9,
		}},
	}
}

func unit(vals ...float32) []float32 {
	vector.Normalize(vals)
	return vals
}

func TestExactHit(t *testing.T) {
	c := openTestCache(t, Options{})
	ctx := context.Background()

	_, ok := c.Get(ctx, "how to authenticate users", 5, nil)
	assert.False(t, ok, "miss before put")

	c.Put(ctx, "how to authenticate users", 5, nil, sampleResult())

	res, ok := c.Get(ctx, "how to authenticate users", 5, nil)
	require.True(t, ok)
	assert.Equal(t, "proj0001:auth.py:0", res.Candidates[0].ChunkID)
}

func TestExactKey_NormalizesQuery(t *testing.T) {
	k1 := ExactKey("p", "  How To AUTH  ", 5)
	k2 := ExactKey("p", "how to auth", 5)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, ExactKey("p", "how to auth", 6), "k is part of the key")
	assert.NotEqual(t, k1, ExactKey("q", "how to auth", 5), "project is part of the key")
}

func TestSemanticHit(t *testing.T) {
	c := openTestCache(t, Options{Dim: 3, SemanticThreshold: 0.9})
	ctx := context.Background()

	qv1 := unit(1, 0, 0)
	c.Put(ctx, "how to authenticate users", 5, qv1, sampleResult())

	// A near-identical embedding crosses the threshold.
	qv2 := unit(1, 0.1, 0)
	res, ok := c.Get(ctx, "how do i authenticate a user", 5, qv2)
	require.True(t, ok)
	assert.Equal(t, "proj0001:auth.py:0", res.Candidates[0].ChunkID)

	// After the write-through the exact tier answers without a vector.
	res, ok = c.Get(ctx, "how do i authenticate a user", 5, nil)
	require.True(t, ok)
	assert.NotEmpty(t, res.Candidates)
}

func TestSemanticMissBelowThreshold(t *testing.T) {
	c := openTestCache(t, Options{Dim: 3, SemanticThreshold: 0.95})
	ctx := context.Background()

	c.Put(ctx, "authentication", 5, unit(1, 0, 0), sampleResult())

	_, ok := c.Get(ctx, "database pooling", 5, unit(0, 1, 0))
	assert.False(t, ok)
}

func TestSemanticTierInertWithoutDim(t *testing.T) {
	c := openTestCache(t, Options{})
	ctx := context.Background()

	c.Put(ctx, "q", 5, unit(1, 0, 0), sampleResult())
	_, ok := c.Get(ctx, "different q", 5, unit(1, 0, 0))
	assert.False(t, ok)
	assert.Zero(t, c.Status(ctx).SemanticEntries)
}

func TestTTLExpiry(t *testing.T) {
	c := openTestCache(t, Options{TTL: time.Millisecond})
	ctx := context.Background()

	c.Put(ctx, "short lived", 5, nil, sampleResult())
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(ctx, "short lived", 5, nil)
	assert.False(t, ok)
}

func TestClearProject(t *testing.T) {
	c := openTestCache(t, Options{Dim: 3})
	ctx := context.Background()

	c.Put(ctx, "one", 5, unit(1, 0, 0), sampleResult())
	c.Put(ctx, "two", 5, unit(0, 1, 0), sampleResult())
	require.NoError(t, c.Clear(ctx, ScopeProject))

	_, ok := c.Get(ctx, "one", 5, nil)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "two", 5, nil)
	assert.False(t, ok)

	st := c.Status(ctx)
	assert.Zero(t, st.ExactEntries)
	assert.Zero(t, st.SemanticEntries)
}

func TestClearExpiredOnly(t *testing.T) {
	c := openTestCache(t, Options{TTL: time.Hour})
	ctx := context.Background()

	c.Put(ctx, "fresh", 5, nil, sampleResult())
	require.NoError(t, c.Clear(ctx, ScopeExpired))

	_, ok := c.Get(ctx, "fresh", 5, nil)
	assert.True(t, ok, "unexpired entries survive expired-only clear")
}

func TestEvictionBound(t *testing.T) {
	c := openTestCache(t, Options{MaxEntries: 3})
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c", "d", "e"} {
		c.Put(ctx, q, 5, nil, sampleResult())
	}
	st := c.Status(ctx)
	assert.LessOrEqual(t, st.ExactEntries, 3)

	// The most recent entry survives.
	_, ok := c.Get(ctx, "e", 5, nil)
	assert.True(t, ok)
}

func TestStatusCounts(t *testing.T) {
	c := openTestCache(t, Options{Dim: 2})
	ctx := context.Background()

	c.Put(ctx, "x", 5, unit(1, 0), sampleResult())
	st := c.Status(ctx)
	assert.Equal(t, 1, st.ExactEntries)
	assert.Equal(t, 1, st.SemanticEntries)
}
