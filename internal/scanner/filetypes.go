package scanner

import (
	"path/filepath"
	"strings"

	"github.com/locussearch/locus-mcp/pkg/types"
)

// codeExtensions is the code set for chunking: general-purpose and
// markup/config source extensions. Files match case-insensitively.
var codeExtensions = map[string]struct{}{
	// General-purpose languages
	".go": {}, ".py": {}, ".pyi": {}, ".js": {}, ".jsx": {}, ".mjs": {},
	".cjs": {}, ".ts": {}, ".tsx": {}, ".java": {}, ".kt": {}, ".kts": {},
	".scala": {}, ".rs": {}, ".c": {}, ".h": {}, ".cpp": {}, ".cc": {},
	".cxx": {}, ".hpp": {}, ".hh": {}, ".cs": {}, ".rb": {}, ".php": {},
	".swift": {}, ".m": {}, ".mm": {}, ".dart": {}, ".lua": {}, ".pl": {},
	".pm": {}, ".r": {}, ".jl": {}, ".ex": {}, ".exs": {}, ".erl": {},
	".hrl": {}, ".hs": {}, ".ml": {}, ".mli": {}, ".clj": {}, ".cljs": {},
	".groovy": {}, ".zig": {}, ".nim": {}, ".v": {}, ".fs": {}, ".fsx": {},
	// Shell and scripting
	".sh": {}, ".bash": {}, ".zsh": {}, ".fish": {}, ".ps1": {}, ".bat": {},
	// Data, markup, and config
	".json": {}, ".yaml": {}, ".yml": {}, ".toml": {}, ".xml": {},
	".css": {}, ".scss": {}, ".less": {}, ".sql": {}, ".graphql": {},
	".proto": {}, ".tf": {}, ".hcl": {}, ".cmake": {}, ".mk": {},
	".dockerfile": {}, ".ini": {}, ".cfg": {}, ".vue": {}, ".svelte": {},
}

// docExtensions is the prose set, chunked by token windows. Disjoint from
// the code set.
var docExtensions = map[string]struct{}{
	".md": {}, ".markdown": {}, ".txt": {}, ".rst": {}, ".html": {},
	".adoc": {}, ".org": {}, ".tex": {},
}

// Classify returns the chunking kind for a path, and false when the
// extension is in neither set (the file is skipped).
func Classify(path string) (types.FileKind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := codeExtensions[ext]; ok {
		return types.KindCode, true
	}
	if _, ok := docExtensions[ext]; ok {
		return types.KindDoc, true
	}
	return "", false
}
