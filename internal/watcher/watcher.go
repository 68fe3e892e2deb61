// Package watcher keeps an advisory per-project dirty flag fed by
// filesystem events. A clean flag lets catch-up skip the tree walk; the
// flag is advisory only and correctness never depends on it.
package watcher

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher tracks one project root.
type Watcher struct {
	root string

	mu      sync.Mutex
	dirty   bool
	started bool

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// New creates a watcher for root. The initial state is dirty so the first
// catch-up always scans.
func New(root string) *Watcher {
	return &Watcher{root: root, dirty: true, done: make(chan struct{})}
}

// Start begins watching the root tree. Failure to start leaves the watcher
// permanently dirty, which is safe.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	// Watch the root and its subdirectories. New directories are added as
	// their create events arrive.
	err = filepath.WalkDir(w.root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || !d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != w.root {
			return filepath.SkipDir
		}
		if name == "node_modules" || name == "__pycache__" || name == "vendor" {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		_ = fsw.Close()
		return err
	}

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.MarkDirty()
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.fsw.Add(event.Name)
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[WATCHER] %s: %v", w.root, err)
			w.MarkDirty()
		case <-w.done:
			return
		}
	}
}

// MarkDirty flags the project as needing a scan.
func (w *Watcher) MarkDirty() {
	w.mu.Lock()
	w.dirty = true
	w.mu.Unlock()
}

// ConsumeClean reports whether the tree walk may be skipped: true only
// when the watcher is running and no event arrived since the last
// ClearDirty.
func (w *Watcher) ConsumeClean() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.dirty
}

// ClearDirty is called after a successful catch-up observed the tree.
func (w *Watcher) ClearDirty() {
	w.mu.Lock()
	if w.started {
		w.dirty = false
	}
	w.mu.Unlock()
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
