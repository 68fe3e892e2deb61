package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locussearch/locus-mcp/internal/config"
	"github.com/locussearch/locus-mcp/internal/embedder"
	"github.com/locussearch/locus-mcp/internal/querycache"
	"github.com/locussearch/locus-mcp/pkg/types"
)

// failingEmbedder simulates an unreachable embedding endpoint.
type failingEmbedder struct{ dim int }

func (f failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, &types.TransientError{Op: "embed", Err: context.DeadlineExceeded}
}
func (f failingEmbedder) Dim() int     { return f.dim }
func (f failingEmbedder) Name() string { return "failing" }

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	c, err := New(cfg, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func touchFuture(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}

func TestScenario_FreshProjectSearch(t *testing.T) {
	c := newTestCore(t)
	root := t.TempDir()
	writeFile(t, root, "a.py", "def login(u,p):\n    return check(u,p)\n")

	proj, err := c.AddProject("proj", root)
	require.NoError(t, err)

	res, err := c.RagSearch(context.Background(), SearchParams{
		Selector: "proj", Query: "login function", K: 5, UseVector: true, AutoIndex: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)

	cand := res.Candidates[0]
	assert.Equal(t, proj.ID+":a.py:0", cand.ChunkID)
	assert.Equal(t, 1, cand.StartLine)
	assert.Equal(t, 2, cand.EndLine)
	assert.Empty(t, res.DegradedReasons)
}

func TestScenario_ModifyThenSearch(t *testing.T) {
	c := newTestCore(t)
	root := t.TempDir()
	writeFile(t, root, "a.py", "def login(u,p):\n    return check(u,p)\n")

	_, err := c.AddProject("proj", root)
	require.NoError(t, err)
	_, err = c.CatchUp(context.Background(), "proj", "")
	require.NoError(t, err)

	writeFile(t, root, "a.py", "def login(u,p):\n    return check(u,p)\ndef logout():\n    pass\n")
	touchFuture(t, filepath.Join(root, "a.py"))

	res, err := c.RagSearch(context.Background(), SearchParams{
		Selector: "proj", Query: "logout", K: 5, UseVector: true, AutoIndex: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	cand := res.Candidates[0]
	assert.LessOrEqual(t, cand.StartLine, 3)
	assert.GreaterOrEqual(t, cand.EndLine, 4)
	assert.Contains(t, cand.Text, "def logout")
}

func TestScenario_DeleteFilePurgesEverywhere(t *testing.T) {
	c := newTestCore(t)
	root := t.TempDir()
	writeFile(t, root, "a.py", "def login(u,p):\n    return check(u,p)\n")

	_, err := c.AddProject("proj", root)
	require.NoError(t, err)
	_, err = c.CatchUp(context.Background(), "proj", "")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "a.py")))

	res, err := c.RagSearch(context.Background(), SearchParams{
		Selector: "proj", Query: "login", K: 5, UseVector: true, AutoIndex: true,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)

	st, err := c.IndexStatus(context.Background(), "proj", "")
	require.NoError(t, err)
	assert.Zero(t, st.FilesIndexed)
	assert.Zero(t, st.ChunksIndexed)
	assert.Zero(t, st.VectorsIndexed)
}

func TestScenario_AutoResolveByWorkingDir(t *testing.T) {
	c := newTestCore(t)
	base := t.TempDir()
	p1 := filepath.Join(base, "p1")
	p2 := filepath.Join(base, "p2")
	writeFile(t, p1, "one.py", "def one(): only_in_p1()\n")
	writeFile(t, p1, "sub/keep.py", "x = 1\n")
	writeFile(t, p2, "two.py", "def two(): only_in_p2()\n")

	_, err := c.AddProject("p1", p1)
	require.NoError(t, err)
	_, err = c.AddProject("p2", p2)
	require.NoError(t, err)

	res, err := c.RagSearch(context.Background(), SearchParams{
		Selector: "auto", WorkingDir: filepath.Join(p1, "sub"),
		Query: "only_in_p1", K: 5, UseVector: true, AutoIndex: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, "one.py", res.Candidates[0].Path)

	res, err = c.RagSearch(context.Background(), SearchParams{
		Selector: "auto", WorkingDir: p2,
		Query: "only_in_p2", K: 5, UseVector: true, AutoIndex: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, "two.py", res.Candidates[0].Path)
}

func TestScenario_EmbedderDownDegrades(t *testing.T) {
	c := newTestCore(t)
	root := t.TempDir()
	writeFile(t, root, "a.py", "def login(u,p):\n    return check(u,p)\n")

	_, err := c.AddProject("proj", root)
	require.NoError(t, err)
	_, err = c.CatchUp(context.Background(), "proj", "")
	require.NoError(t, err)

	// The vector index is populated, then the embedder goes away.
	c.embedder = failingEmbedder{dim: embedder.LocalDim}

	res, err := c.RagSearch(context.Background(), SearchParams{
		Selector: "proj", Query: "login", K: 5, UseVector: true, AutoIndex: false,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{types.DegradedEmbedderUnavailable}, res.DegradedReasons)
	require.Len(t, res.Candidates, 1)
	assert.Nil(t, res.Candidates[0].VectorScore)
}

func TestScenario_RerankUnavailableFailsOpen(t *testing.T) {
	c := newTestCore(t)
	root := t.TempDir()
	for i := 0; i < 6; i++ {
		writeFile(t, root, filepath.Join("src", "f"+string(rune('a'+i))+".py"),
			"def handler(): authenticate_user()\n")
	}

	_, err := c.AddProject("proj", root)
	require.NoError(t, err)

	// No LLM is configured in the test core, so rerank fails open.
	res, err := c.AnswerGenerate(context.Background(), AnswerParams{
		Selector: "proj", Query: "authenticate_user", K: 2, Rerank: true,
	})
	require.NoError(t, err)
	assert.Contains(t, res.DegradedReasons, types.DegradedRerankUnavailable)
	assert.LessOrEqual(t, len(res.Candidates), 2)
	assert.NotEmpty(t, res.Candidates)
}

func TestScenario_CacheExactAndSemantic(t *testing.T) {
	c := newTestCore(t)
	root := t.TempDir()
	writeFile(t, root, "auth.py", "def authenticate(user):\n    return user.check()\n")

	_, err := c.AddProject("proj", root)
	require.NoError(t, err)

	ctx := context.Background()
	q1 := "how to authenticate users"
	r1, err := c.RagSearch(ctx, SearchParams{Selector: "proj", Query: q1, K: 5, UseVector: true, AutoIndex: true})
	require.NoError(t, err)
	require.NotEmpty(t, r1.Candidates)

	// Exact hit: byte-equal query.
	r2, err := c.RagSearch(ctx, SearchParams{Selector: "proj", Query: q1, K: 5, UseVector: true, AutoIndex: true})
	require.NoError(t, err)
	assert.Equal(t, r1.Candidates, r2.Candidates)

	// Semantic tier: hit iff cosine >= threshold.
	q2 := "how do i authenticate a user"
	vecs, err := c.embedder.Embed(ctx, []string{q1, q2})
	require.NoError(t, err)
	var cos float64
	for i := range vecs[0] {
		cos += float64(vecs[0][i]) * float64(vecs[1][i])
	}
	r3, err := c.RagSearch(ctx, SearchParams{Selector: "proj", Query: q2, K: 5, UseVector: true, AutoIndex: true})
	require.NoError(t, err)
	if cos >= c.cfg.Cache.SemanticThreshold {
		assert.Equal(t, r1.Candidates, r3.Candidates)
	} else {
		// Below the threshold the engine re-searched; candidates still
		// come from the same corpus.
		assert.NotEmpty(t, r3.Candidates)
	}
}

func TestEmptyQueryShortCircuits(t *testing.T) {
	c := newTestCore(t)
	root := t.TempDir()
	writeFile(t, root, "a.py", "x = 1\n")
	_, err := c.AddProject("proj", root)
	require.NoError(t, err)

	res, err := c.RagSearch(context.Background(), SearchParams{Selector: "proj", Query: "  ", K: 5})
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.Empty(t, res.DegradedReasons)
}

func TestRebuildMatchesWorkingTree(t *testing.T) {
	c := newTestCore(t)
	root := t.TempDir()
	writeFile(t, root, "a.py", "def a(): pass\n")
	writeFile(t, root, "b.go", "package b\n\nfunc B() {}\n")
	writeFile(t, root, "README.md", "# readme with some words\n")

	_, err := c.AddProject("proj", root)
	require.NoError(t, err)

	stats, err := c.IndexRebuild(context.Background(), "proj", "", true)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Added)

	st, err := c.IndexStatus(context.Background(), "proj", "")
	require.NoError(t, err)
	assert.Equal(t, 3, st.FilesIndexed)
}

func TestCacheClearThenMiss(t *testing.T) {
	c := newTestCore(t)
	root := t.TempDir()
	writeFile(t, root, "a.py", "def target(): pass\n")
	_, err := c.AddProject("proj", root)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.RagSearch(ctx, SearchParams{Selector: "proj", Query: "target", K: 5, UseVector: true, AutoIndex: true})
	require.NoError(t, err)

	st, err := c.CacheStatus(ctx, "proj", "")
	require.NoError(t, err)
	assert.Positive(t, st.ExactEntries)

	require.NoError(t, c.CacheClear(ctx, "proj", "", querycache.ScopeProject))

	st, err = c.CacheStatus(ctx, "proj", "")
	require.NoError(t, err)
	assert.Zero(t, st.ExactEntries)
	assert.Zero(t, st.SemanticEntries)
}

func TestProjectIsolation(t *testing.T) {
	c := newTestCore(t)
	r1 := t.TempDir()
	r2 := t.TempDir()
	writeFile(t, r1, "one.py", "def one(): pass\n")
	writeFile(t, r2, "two.py", "def two(): pass\n")

	p1, err := c.AddProject("iso1", r1)
	require.NoError(t, err)
	p2, err := c.AddProject("iso2", r2)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.CatchUp(ctx, "iso1", "")
	require.NoError(t, err)
	_, err = c.CatchUp(ctx, "iso2", "")
	require.NoError(t, err)

	res, err := c.RagSearch(ctx, SearchParams{Selector: "iso1", Query: "two", K: 5, UseVector: true})
	require.NoError(t, err)
	for _, cand := range res.Candidates {
		assert.True(t, strings.HasPrefix(cand.ChunkID, p1.ID+":"))
	}

	// Removing one project leaves the other's files alone.
	_, err = c.RemoveProject("iso1")
	require.NoError(t, err)
	_, statErr := os.Stat(c.registry.ProjectDir(p2.ID))
	assert.NoError(t, statErr)
}

func TestCorruptStateTriggersRebuild(t *testing.T) {
	c := newTestCore(t)
	root := t.TempDir()
	writeFile(t, root, "a.py", "def recoverable(): pass\n")

	p, err := c.AddProject("proj", root)
	require.NoError(t, err)
	_, err = c.CatchUp(context.Background(), "proj", "")
	require.NoError(t, err)

	// Truncate the state file to simulate a crash mid-write.
	statePath := filepath.Join(c.registry.ProjectDir(p.ID), "state.jsonl")
	require.NoError(t, os.WriteFile(statePath, nil, 0o644))

	stats, err := c.CatchUp(context.Background(), "proj", "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added, "rebuild re-indexed the tree")

	res, err := c.RagSearch(context.Background(), SearchParams{
		Selector: "proj", Query: "recoverable", K: 5, UseVector: true,
	})
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 1)
}

func TestSymbolOps(t *testing.T) {
	c := newTestCore(t)
	root := t.TempDir()
	writeFile(t, root, "svc.go", "package svc\n\nfunc Serve() {}\n\nfunc caller() {\n\tServe()\n}\n")

	_, err := c.AddProject("proj", root)
	require.NoError(t, err)
	_, err = c.CatchUp(context.Background(), "proj", "")
	require.NoError(t, err)

	ctx := context.Background()
	syms, err := c.Symbols(ctx, "proj", "", "svc.go")
	require.NoError(t, err)
	assert.NotEmpty(t, syms)

	defs, err := c.FindSymbol(ctx, "proj", "", "Serve", "")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "svc.go", defs[0].Path)

	refs, err := c.References(ctx, "proj", "", "Serve")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, 6, refs[0].Line)
}

func TestFileOps(t *testing.T) {
	c := newTestCore(t)
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "docs/guide.md", "# Guide\n")

	_, err := c.AddProject("proj", root)
	require.NoError(t, err)

	read, err := c.FileRead("proj", "", "main.go", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "package main", read.Content)

	listing, err := c.FileList("proj", "", ".")
	require.NoError(t, err)
	assert.Contains(t, listing, "main.go")

	found, err := c.FileFind("proj", "", "**/*.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/guide.md"}, found)

	matches, err := c.SearchPattern("proj", "", `func main`, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "main.go", matches[0].Path)
	assert.Equal(t, 3, matches[0].Line)
}
