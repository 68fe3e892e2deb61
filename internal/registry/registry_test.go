package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locussearch/locus-mcp/pkg/types"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dataDir := t.TempDir()
	r, err := Open(dataDir)
	require.NoError(t, err)
	return r, dataDir
}

func TestAddAndList(t *testing.T) {
	r, _ := newTestRegistry(t)
	root := t.TempDir()

	p, err := r.Add("myproj", root, 384)
	require.NoError(t, err)
	assert.Len(t, p.ID, 8)
	assert.Equal(t, "myproj", p.Name)
	assert.True(t, p.Active, "first project is active")
	assert.Equal(t, 384, p.EmbeddingDim)

	list := r.List()
	require.Len(t, list, 1)
	abs, _ := filepath.Abs(root)
	assert.Equal(t, abs, list[0].Root)
}

func TestAdd_DuplicatePathReturnsExisting(t *testing.T) {
	r, _ := newTestRegistry(t)
	root := t.TempDir()

	p1, err := r.Add("one", root, 0)
	require.NoError(t, err)
	p2, err := r.Add("two", root, 0)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
	assert.Len(t, r.List(), 1)
}

func TestAdd_NameConflict(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Add("same", t.TempDir(), 0)
	require.NoError(t, err)
	_, err = r.Add("same", t.TempDir(), 0)
	assert.ErrorIs(t, err, types.ErrAlreadyExists)
}

func TestAdd_AutoName(t *testing.T) {
	r, _ := newTestRegistry(t)
	root := filepath.Join(t.TempDir(), "My Cool App!")
	require.NoError(t, os.MkdirAll(root, 0o755))

	p, err := r.Add("auto", root, 0)
	require.NoError(t, err)
	assert.Equal(t, "My-Cool-App", p.Name)
}

func TestAdd_MissingPath(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Add("x", filepath.Join(t.TempDir(), "nope"), 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestResolve_ByNameIDAndPath(t *testing.T) {
	r, _ := newTestRegistry(t)
	root := t.TempDir()
	p, err := r.Add("resolver", root, 0)
	require.NoError(t, err)

	byName, err := r.Resolve("resolver", "")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	byID, err := r.Resolve(p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byID.ID)

	byPath, err := r.Resolve(root, "")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byPath.ID)
}

func TestResolve_AutoLongestPrefix(t *testing.T) {
	r, _ := newTestRegistry(t)
	base := t.TempDir()
	outer := filepath.Join(base, "p1")
	inner := filepath.Join(base, "p1", "nested")
	require.NoError(t, os.MkdirAll(filepath.Join(inner, "sub"), 0o755))

	pOuter, err := r.Add("outer", outer, 0)
	require.NoError(t, err)
	pInner, err := r.Add("inner", inner, 0)
	require.NoError(t, err)

	got, err := r.Resolve("auto", filepath.Join(inner, "sub"))
	require.NoError(t, err)
	assert.Equal(t, pInner.ID, got.ID, "longest prefix wins")

	got, err = r.Resolve("auto", outer)
	require.NoError(t, err)
	assert.Equal(t, pOuter.ID, got.ID)
}

func TestResolve_AutoFallsBackToActive(t *testing.T) {
	r, _ := newTestRegistry(t)
	p1, err := r.Add("first", t.TempDir(), 0)
	require.NoError(t, err)
	_, err = r.Add("second", t.TempDir(), 0)
	require.NoError(t, err)

	got, err := r.Resolve("auto", "")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, got.ID)
}

func TestResolve_NotFound(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Resolve("ghost", "")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = r.Resolve("auto", "")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestActivate_ExactlyOneActive(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Add("a", t.TempDir(), 0)
	require.NoError(t, err)
	pb, err := r.Add("b", t.TempDir(), 0)
	require.NoError(t, err)

	_, err = r.Activate("b")
	require.NoError(t, err)

	activeCount := 0
	for _, p := range r.List() {
		if p.Active {
			activeCount++
			assert.Equal(t, pb.ID, p.ID)
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestRemove_PurgesIndexDir(t *testing.T) {
	r, dataDir := newTestRegistry(t)
	p, err := r.Add("doomed", t.TempDir(), 0)
	require.NoError(t, err)

	projDir := filepath.Join(dataDir, p.ID)
	require.NoError(t, os.MkdirAll(projDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projDir, "keyword.db"), []byte("x"), 0o644))

	_, err = r.Remove("doomed")
	require.NoError(t, err)
	assert.Empty(t, r.List())
	_, statErr := os.Stat(projDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPersistenceAcrossOpens(t *testing.T) {
	dataDir := t.TempDir()
	r1, err := Open(dataDir)
	require.NoError(t, err)
	p, err := r1.Add("persisted", t.TempDir(), 1536)
	require.NoError(t, err)

	r2, err := Open(dataDir)
	require.NoError(t, err)
	got, err := r2.Resolve("persisted", "")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, 1536, got.EmbeddingDim)
}

func TestUpdate(t *testing.T) {
	r, _ := newTestRegistry(t)
	p, err := r.Add("mutable", t.TempDir(), 0)
	require.NoError(t, err)

	p.EmbeddingDim = 384
	p.NeedsRebuild = true
	require.NoError(t, r.Update(p))

	got, err := r.Resolve("mutable", "")
	require.NoError(t, err)
	assert.Equal(t, 384, got.EmbeddingDim)
	assert.True(t, got.NeedsRebuild)
}

func TestProjectIDStability(t *testing.T) {
	created := time.Unix(1700000000, 0)
	id1 := types.NewProjectID("/tmp/x", created)
	id2 := types.NewProjectID("/tmp/x", created)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 8)
}
