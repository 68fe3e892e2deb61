package scanner

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locussearch/locus-mcp/pkg/types"
)

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func relPaths(entries []FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.RelPath
	}
	return out
}

func TestScan_Basic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", []byte("package main\n"))
	writeFile(t, root, "docs/readme.md", []byte("# hi\n"))
	writeFile(t, root, "image.png", []byte("not matched"))

	entries, err := Scan(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main.go", "docs/readme.md"}, relPaths(entries))

	for _, e := range entries {
		if e.RelPath == "main.go" {
			assert.Equal(t, types.KindCode, e.Kind)
		}
		if e.RelPath == "docs/readme.md" {
			assert.Equal(t, types.KindDoc, e.Kind)
		}
	}
}

func TestScan_HardExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "node_modules/pkg/index.js", []byte("x"))
	writeFile(t, root, ".git/config.ini", []byte("x"))
	writeFile(t, root, "__pycache__/m.py", []byte("x"))
	writeFile(t, root, "src/ok.py", []byte("x = 1\n"))

	entries, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/ok.py"}, relPaths(entries))
}

func TestScan_Gitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", []byte("*.log\nsecret/\n!keep.log\n"))
	writeFile(t, root, "app.log", []byte("ignore me"))
	writeFile(t, root, "keep.log", []byte("keep me"))
	writeFile(t, root, "secret/creds.yaml", []byte("k: v"))
	writeFile(t, root, "ok.go", []byte("package ok\n"))

	entries, err := Scan(root)
	require.NoError(t, err)
	// .log is not in either extension set, so only ok.go survives anyway;
	// assert the ignore decisions directly instead.
	g := LoadGitignore(root)
	assert.True(t, g.Match("app.log", false))
	assert.False(t, g.Match("keep.log", false))
	assert.True(t, g.Match("secret/creds.yaml", false))
	assert.False(t, g.Match("ok.go", false))
	assert.Equal(t, []string{"ok.go"}, relPaths(entries))
}

func TestScan_SizeCap(t *testing.T) {
	root := t.TempDir()
	atCap := bytes.Repeat([]byte("a"), int(MaxFileSize))
	overCap := bytes.Repeat([]byte("a"), int(MaxFileSize)+1)
	writeFile(t, root, "exact.txt", atCap)
	writeFile(t, root, "over.txt", overCap)

	entries, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"exact.txt"}, relPaths(entries))
}

func TestScan_BinaryDetection(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "early_nul.py", append([]byte("x = 1"), 0))

	lateNul := append(bytes.Repeat([]byte("a\n"), binarySniffLen/2+1), 0)
	writeFile(t, root, "late_nul.py", lateNul)

	entries, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"late_nul.py"}, relPaths(entries))
}

func TestScan_SymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	writeFile(t, outside, "out.go", []byte("package out\n"))

	root := t.TempDir()
	writeFile(t, root, "in.go", []byte("package in\n"))
	if err := os.Symlink(filepath.Join(outside, "out.go"), filepath.Join(root, "link.go")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	entries, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"in.go"}, relPaths(entries))
}

func TestClassify_Disjoint(t *testing.T) {
	for ext := range codeExtensions {
		_, isDoc := docExtensions[ext]
		assert.False(t, isDoc, "extension %s in both sets", ext)
	}
	assert.GreaterOrEqual(t, len(codeExtensions), 50)
}
