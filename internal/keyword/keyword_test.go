package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locussearch/locus-mcp/pkg/types"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "keyword.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func mkChunk(path string, ordinal int, text string) types.Chunk {
	return types.Chunk{
		ID:        types.ChunkID("pid00001", path, ordinal),
		ProjectID: "pid00001",
		Path:      path,
		Ordinal:   ordinal,
		StartLine: ordinal*40 + 1,
		EndLine:   ordinal*40 + 2,
		Text:      text,
		Kind:      types.KindCode,
	}
}

func TestUpsertAndSearch(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.UpsertChunks(ctx, []types.Chunk{
		mkChunk("auth.py", 0, "def login(user, password):\n    return check(user, password)"),
		mkChunk("db.py", 0, "def connect(dsn):\n    return open_pool(dsn)"),
	}))

	hits, err := ix.Search(ctx, "login function", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "pid00001:auth.py:0", hits[0].ChunkID)
	require.NotNil(t, hits[0].KeywordScore)
	assert.Greater(t, *hits[0].KeywordScore, 0.0)
}

func TestUpsertIdempotent(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	c := mkChunk("a.go", 0, "func Handler() {}")
	require.NoError(t, ix.UpsertChunks(ctx, []types.Chunk{c}))
	c.Text = "func Handler() { updated() }"
	require.NoError(t, ix.UpsertChunks(ctx, []types.Chunk{c}))

	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := ix.Search(ctx, "updated", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Text, "updated")
}

func TestDeleteByFile(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.UpsertChunks(ctx, []types.Chunk{
		mkChunk("gone.py", 0, "def removed(): pass"),
		mkChunk("gone.py", 1, "def also_removed(): pass"),
		mkChunk("kept.py", 0, "def kept(): pass"),
	}))
	require.NoError(t, ix.DeleteByFile(ctx, "gone.py"))

	hits, err := ix.Search(ctx, "removed", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	paths, err := ix.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept.py"}, paths)
}

func TestSearch_TieBreakByChunkID(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	// Identical content scores identically; order must be id ascending.
	require.NoError(t, ix.UpsertChunks(ctx, []types.Chunk{
		mkChunk("b.py", 0, "token_xyz"),
		mkChunk("a.py", 0, "token_xyz"),
	}))

	hits, err := ix.Search(ctx, "token_xyz", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "pid00001:a.py:0", hits[0].ChunkID)
	assert.Equal(t, "pid00001:b.py:0", hits[1].ChunkID)
}

func TestSearch_EmptyQuery(t *testing.T) {
	ix := openTestIndex(t)
	hits, err := ix.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_CJK(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.UpsertChunks(ctx, []types.Chunk{
		mkChunk("doc.md", 0, "用户登录 authentication flow"),
	}))

	hits, err := ix.Search(ctx, "登录", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestRebuild(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.UpsertChunks(ctx, []types.Chunk{mkChunk("x.py", 0, "stuff here")}))
	require.NoError(t, ix.Rebuild(ctx))

	n, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	hits, err := ix.Search(ctx, "stuff", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"get_user", "42", "名", "前"}, Tokenize("Get_User-42 名前"))
	assert.Empty(t, Tokenize("!!! ..."))
}

func TestOrdinalsForFile(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.UpsertChunks(ctx, []types.Chunk{
		mkChunk("f.py", 0, "a"),
		mkChunk("f.py", 1, "b"),
		mkChunk("f.py", 2, "c"),
	}))
	ords, err := ix.OrdinalsForFile(ctx, "f.py")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, ords)
}
