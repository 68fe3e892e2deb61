package scanner

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// gitignorePattern is one parsed .gitignore line.
type gitignorePattern struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

// Gitignore matches relative paths against the patterns of a project-root
// .gitignore using standard gitignore semantics: later patterns win,
// negation re-includes, unanchored patterns match at any depth.
type Gitignore struct {
	patterns []gitignorePattern
}

// LoadGitignore reads root/.gitignore. A missing file yields an empty
// matcher.
func LoadGitignore(root string) *Gitignore {
	g := &Gitignore{}
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return g
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		g.AddPattern(line)
	}
	return g
}

// AddPattern parses and appends a single pattern line.
func (g *Gitignore) AddPattern(line string) {
	p := gitignorePattern{}
	if strings.HasPrefix(line, "!") {
		p.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		p.anchored = true
		line = strings.TrimPrefix(line, "/")
	} else if strings.Contains(line, "/") {
		// A slash anywhere anchors the pattern to the root.
		p.anchored = true
	}
	p.pattern = line
	g.patterns = append(g.patterns, p)
}

// Match reports whether relPath (forward-slash) is ignored. isDir applies
// directory-only patterns.
func (g *Gitignore) Match(relPath string, isDir bool) bool {
	ignored := false
	for _, p := range g.patterns {
		if p.dirOnly && !isDir && !g.underIgnoredDir(p, relPath) {
			continue
		}
		if g.matchOne(p, relPath) {
			ignored = !p.negate
		}
	}
	return ignored
}

// underIgnoredDir checks whether a file lies beneath a directory matched
// by a dir-only pattern.
func (g *Gitignore) underIgnoredDir(p gitignorePattern, relPath string) bool {
	parts := strings.Split(relPath, "/")
	for i := 1; i < len(parts); i++ {
		if g.matchOne(p, strings.Join(parts[:i], "/")) {
			return true
		}
	}
	return false
}

func (g *Gitignore) matchOne(p gitignorePattern, relPath string) bool {
	if p.anchored {
		if ok, err := doublestar.Match(p.pattern, relPath); err == nil && ok {
			return true
		}
		// "dir" anchored also matches everything below it.
		if ok, err := doublestar.Match(p.pattern+"/**", relPath); err == nil && ok {
			return true
		}
		return false
	}
	// Unanchored: match the basename or any suffix of the path.
	if ok, err := doublestar.Match(p.pattern, filepath.Base(relPath)); err == nil && ok {
		return true
	}
	if ok, err := doublestar.Match("**/"+p.pattern, relPath); err == nil && ok {
		return true
	}
	if ok, err := doublestar.Match("**/"+p.pattern+"/**", relPath); err == nil && ok {
		return true
	}
	return false
}
