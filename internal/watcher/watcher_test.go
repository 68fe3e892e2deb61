package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_InitiallyDirty(t *testing.T) {
	w := New(t.TempDir())
	assert.False(t, w.ConsumeClean(), "not started yet, never clean")
}

func TestWatcher_CleanAfterClear(t *testing.T) {
	w := New(t.TempDir())
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Close() })

	assert.False(t, w.ConsumeClean(), "dirty until first clear")
	w.ClearDirty()
	assert.True(t, w.ConsumeClean())
}

func TestWatcher_EventMarksDirty(t *testing.T) {
	root := t.TempDir()
	w := New(root)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Close() })

	w.ClearDirty()
	require.True(t, w.ConsumeClean())

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.go"), []byte("package x\n"), 0o644))

	// Event delivery is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !w.ConsumeClean() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("watcher never observed the write")
}

func TestWatcher_UnstartedClearStaysDirty(t *testing.T) {
	w := New(t.TempDir())
	w.ClearDirty()
	assert.False(t, w.ConsumeClean(), "without a running watcher the flag must stay dirty")
}
