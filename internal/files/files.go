// Package files serves direct file access inside a project root: reading
// with line ranges, directory listing, glob finding, and regex pattern
// search.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/locussearch/locus-mcp/internal/scanner"
	"github.com/locussearch/locus-mcp/pkg/types"
)

const (
	// DefaultMaxLines bounds a read without an explicit range.
	DefaultMaxLines = 500

	// DefaultMaxItems bounds listing and find results.
	DefaultMaxItems = 200
)

// ReadResult is a line-ranged file read.
type ReadResult struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	TotalLines int    `json:"total_lines"`
	Truncated  bool   `json:"truncated"`
}

// PatternMatch is one regex hit with surrounding context.
type PatternMatch struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Text    string `json:"text"`
	Context string `json:"context"`
}

// resolve joins rel onto root and rejects escapes.
func resolve(root, rel string) (string, error) {
	joined := filepath.Join(root, filepath.FromSlash(rel))
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("files: path %q escapes project root: %w", rel, types.ErrNotFound)
	}
	return abs, nil
}

// Read returns up to maxLines lines of a file starting at startLine
// (1-based). endLine zero means startLine+maxLines.
func Read(root, rel string, startLine, endLine, maxLines int) (*ReadResult, error) {
	path, err := resolve(root, rel)
	if err != nil {
		return nil, err
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("files: %s: %w", rel, types.ErrNotFound)
		}
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("files: %s is not a text file: %w", rel, types.ErrNotFound)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	total := len(lines)

	startIdx := 0
	if startLine > 0 {
		startIdx = startLine - 1
	}
	if startIdx > total {
		startIdx = total
	}
	endIdx := startIdx + maxLines
	if endLine > 0 && endLine < endIdx {
		endIdx = endLine
	}
	if endIdx > total {
		endIdx = total
	}

	return &ReadResult{
		Path:       rel,
		Content:    strings.Join(lines[startIdx:endIdx], "\n"),
		StartLine:  startIdx + 1,
		EndLine:    endIdx,
		TotalLines: total,
		Truncated:  endIdx < total,
	}, nil
}

// List returns the entries of a directory, directories suffixed with "/".
func List(root, rel string, maxItems int) ([]string, error) {
	path, err := resolve(root, rel)
	if err != nil {
		return nil, err
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("files: %s: %w", rel, types.ErrNotFound)
		}
		return nil, err
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if len(out) >= maxItems {
			break
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		out = append(out, name)
	}
	return out, nil
}

// Find returns project-relative paths matching a doublestar glob.
func Find(root, glob string, maxItems int) ([]string, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if !doublestar.ValidatePattern(glob) {
		return nil, fmt.Errorf("files: invalid glob %q", glob)
	}

	entries, err := scanner.Scan(root)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, e := range entries {
		ok, err := doublestar.Match(glob, e.RelPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Also try basename matching for simple patterns.
			if ok2, _ := doublestar.Match(glob, filepath.Base(e.RelPath)); !ok2 {
				continue
			}
		}
		out = append(out, e.RelPath)
		if len(out) >= maxItems {
			break
		}
	}
	return out, nil
}

// SearchPattern scans the project's text files with a regex, returning
// matches with contextLines lines of context.
func SearchPattern(root, pattern string, contextLines, maxResults int) ([]PatternMatch, error) {
	if maxResults <= 0 {
		maxResults = 50
	}
	if contextLines < 0 {
		contextLines = 2
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("files: invalid regex: %w", err)
	}

	entries, err := scanner.Scan(root)
	if err != nil {
		return nil, err
	}

	var out []PatternMatch
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(e.RelPath)))
		if err != nil || !utf8.Valid(data) {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			loc := re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			start := i - contextLines
			if start < 0 {
				start = 0
			}
			end := i + contextLines + 1
			if end > len(lines) {
				end = len(lines)
			}
			out = append(out, PatternMatch{
				Path:    e.RelPath,
				Line:    i + 1,
				Column:  loc[0] + 1,
				Text:    strings.TrimSpace(line),
				Context: strings.Join(lines[start:end], "\n"),
			})
			if len(out) >= maxResults {
				return out, nil
			}
		}
	}
	return out, nil
}
