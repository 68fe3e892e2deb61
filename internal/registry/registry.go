// Package registry maintains the persistent set of registered projects and
// resolves selectors (name, id, path, "auto") to records. One mutex covers
// both the in-memory map and the registry file.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/locussearch/locus-mcp/pkg/types"
)

// AutoSelector resolves against the caller's working directory.
const AutoSelector = "auto"

// Registry is the process-wide project store.
type Registry struct {
	mu       sync.Mutex
	dataDir  string
	filePath string
	projects []types.Project

	now func() time.Time // test hook
}

// Open loads (or initializes) the registry under dataDir.
func Open(dataDir string) (*Registry, error) {
	r := &Registry{
		dataDir:  dataDir,
		filePath: filepath.Join(dataDir, "projects.json"),
		now:      time.Now,
	}
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("registry: read %s: %w", r.filePath, err)
	}
	if len(data) == 0 {
		// A zero-byte registry is recoverable: start empty.
		return r, nil
	}
	if err := json.Unmarshal(data, &r.projects); err != nil {
		return nil, fmt.Errorf("registry: %s: %w", r.filePath, types.ErrCorrupt)
	}
	return r, nil
}

// DataDir returns the registry's data directory.
func (r *Registry) DataDir() string { return r.dataDir }

// ProjectDir returns the directory holding a project's derived indexes.
func (r *Registry) ProjectDir(projectID string) string {
	return filepath.Join(r.dataDir, projectID)
}

// Add registers a working tree. An empty or "auto" name derives a
// sanitized name from the directory basename. Registering an
// already-registered path returns the existing record. A name collision
// with a different path returns ErrAlreadyExists.
func (r *Registry) Add(name, root string, embeddingDim int) (types.Project, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return types.Project{}, fmt.Errorf("registry: resolve %s: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return types.Project{}, fmt.Errorf("registry: %s: %w", absRoot, types.ErrNotFound)
	}
	if !info.IsDir() {
		return types.Project{}, fmt.Errorf("registry: %s is not a directory: %w", absRoot, types.ErrNotFound)
	}

	if name == "" || name == AutoSelector {
		name = filepath.Base(absRoot)
	}
	name = types.SanitizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.projects {
		if p.Root == absRoot {
			return p, nil
		}
	}
	for _, p := range r.projects {
		if p.Name == name {
			return types.Project{}, fmt.Errorf("registry: project %q: %w", name, types.ErrAlreadyExists)
		}
	}

	created := r.now().UTC()
	proj := types.Project{
		ID:           types.NewProjectID(absRoot, created),
		Name:         name,
		Root:         absRoot,
		CreatedAt:    created,
		Active:       len(r.projects) == 0, // first project starts active
		EmbeddingDim: embeddingDim,
	}
	r.projects = append(r.projects, proj)
	if err := r.persistLocked(); err != nil {
		r.projects = r.projects[:len(r.projects)-1]
		return types.Project{}, err
	}
	return proj, nil
}

// Resolve maps a selector to a project. For "auto" or empty selectors the
// caller's working directory is matched against registered roots
// (longest-prefix wins); with no working directory the active project is
// returned.
func (r *Registry) Resolve(selector, workingDir string) (types.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if selector != "" && selector != AutoSelector {
		for _, p := range r.projects {
			if p.Name == selector || p.ID == selector {
				return p, nil
			}
		}
		if abs, err := filepath.Abs(selector); err == nil {
			for _, p := range r.projects {
				if p.Root == abs {
					return p, nil
				}
			}
		}
		return types.Project{}, fmt.Errorf("registry: no project matches %q: %w", selector, types.ErrNotFound)
	}

	if workingDir != "" {
		if p, ok := r.matchByPrefixLocked(workingDir); ok {
			return p, nil
		}
	}
	for _, p := range r.projects {
		if p.Active {
			return p, nil
		}
	}
	return types.Project{}, fmt.Errorf("registry: no active project: %w", types.ErrNotFound)
}

// matchByPrefixLocked finds the registered root that is the longest prefix
// of dir.
func (r *Registry) matchByPrefixLocked(dir string) (types.Project, bool) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return types.Project{}, false
	}
	var best types.Project
	bestLen := -1
	for _, p := range r.projects {
		if abs == p.Root || strings.HasPrefix(abs, p.Root+string(filepath.Separator)) {
			if len(p.Root) > bestLen {
				best = p
				bestLen = len(p.Root)
			}
		}
	}
	return best, bestLen >= 0
}

// Activate flags exactly one project active.
func (r *Registry) Activate(selector string) (types.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.findLocked(selector)
	if idx < 0 {
		return types.Project{}, fmt.Errorf("registry: no project matches %q: %w", selector, types.ErrNotFound)
	}
	for i := range r.projects {
		r.projects[i].Active = i == idx
	}
	if err := r.persistLocked(); err != nil {
		return types.Project{}, err
	}
	return r.projects[idx], nil
}

// Remove deletes the record and the project's derived index directory.
func (r *Registry) Remove(selector string) (types.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.findLocked(selector)
	if idx < 0 {
		return types.Project{}, fmt.Errorf("registry: no project matches %q: %w", selector, types.ErrNotFound)
	}
	removed := r.projects[idx]
	r.projects = append(r.projects[:idx], r.projects[idx+1:]...)
	if err := r.persistLocked(); err != nil {
		return types.Project{}, err
	}
	if err := os.RemoveAll(r.ProjectDir(removed.ID)); err != nil {
		return removed, fmt.Errorf("registry: purge indexes for %s: %w", removed.ID, err)
	}
	return removed, nil
}

// List returns all records sorted by name.
func (r *Registry) List() []types.Project {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Project, len(r.projects))
	copy(out, r.projects)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Update replaces the stored record with the same ID (used for freezing
// the embedding dimension and the needs-rebuild flag).
func (r *Registry) Update(proj types.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.projects {
		if r.projects[i].ID == proj.ID {
			r.projects[i] = proj
			return r.persistLocked()
		}
	}
	return fmt.Errorf("registry: project %s: %w", proj.ID, types.ErrNotFound)
}

func (r *Registry) findLocked(selector string) int {
	abs, _ := filepath.Abs(selector)
	for i, p := range r.projects {
		if p.Name == selector || p.ID == selector || p.Root == abs {
			return i
		}
	}
	return -1
}

// persistLocked writes the registry file atomically.
func (r *Registry) persistLocked() error {
	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return fmt.Errorf("registry: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(r.projects, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(r.dataDir, ".projects-*.tmp")
	if err != nil {
		return fmt.Errorf("registry: temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, r.filePath)
}
