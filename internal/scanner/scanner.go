// Package scanner walks a project working tree and yields the files that
// pass ignore rules, size caps, and binary detection.
package scanner

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/locussearch/locus-mcp/pkg/types"
)

const (
	// MaxFileSize is the inclusive size cap; larger files are skipped.
	MaxFileSize int64 = 1 << 20

	// binarySniffLen is how many leading bytes are checked for NUL.
	binarySniffLen = 8 * 1024
)

// hardExcludes are directory names skipped regardless of .gitignore.
var hardExcludes = map[string]struct{}{
	".git": {}, "node_modules": {}, ".venv": {}, "__pycache__": {},
	"vendor": {}, "dist": {}, "build": {}, "target": {}, ".idea": {},
	".vscode": {},
}

// FileEntry is one candidate file yielded by a scan.
type FileEntry struct {
	RelPath   string // forward-slash, relative to root
	MtimeSec  int64
	MtimeNsec int64
	Size      int64
	Kind      types.FileKind
}

// Scan traverses root depth-first and returns all files passing the
// filters. Ordering is not guaranteed. Symlinks are followed only when
// they resolve inside root.
func Scan(root string) ([]FileEntry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	ignore := LoadGitignore(absRoot)

	var entries []FileEntry
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == absRoot {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if _, hard := hardExcludes[d.Name()]; hard {
				return filepath.SkipDir
			}
			if ignore.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !symlinkInsideRoot(absRoot, path) {
				return nil
			}
			target, err := os.Stat(path)
			if err != nil || !target.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}

		if ignore.Match(rel, false) {
			return nil
		}

		kind, ok := Classify(rel)
		if !ok {
			return nil
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil
		}
		if info.Size() > MaxFileSize {
			return nil
		}
		if isBinary(path) {
			return nil
		}

		mtime := info.ModTime()
		entries = append(entries, FileEntry{
			RelPath:   rel,
			MtimeSec:  mtime.Unix(),
			MtimeNsec: int64(mtime.Nanosecond()),
			Size:      info.Size(),
			Kind:      kind,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// symlinkInsideRoot reports whether the link target stays under root.
func symlinkInsideRoot(root, path string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return false
	}
	return resolved == root || strings.HasPrefix(resolved, root+string(filepath.Separator))
}

// isBinary sniffs the first 8 KiB for a NUL byte.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, binarySniffLen)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return true
	}
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
	}
	return false
}
