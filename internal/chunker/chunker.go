// Package chunker splits file contents into content-bearing windows: code
// files by line stride, doc files by token stride. It performs no I/O.
package chunker

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/locussearch/locus-mcp/pkg/types"
)

const (
	// Code files: 50-line windows with 10-line overlap.
	CodeWindowLines  = 50
	CodeOverlapLines = 10

	// Doc files: 256-token windows with 32-token overlap.
	DocWindowTokens  = 256
	DocOverlapTokens = 32
)

// ErrNotUTF8 is returned for content that is not valid UTF-8. The caller
// treats the file as skipped; no partial chunks are emitted.
var ErrNotUTF8 = errors.New("chunker: content is not valid UTF-8")

// Chunk splits content into chunks for the given file. Ordinals are
// contiguous from zero; empty windows are dropped.
func Chunk(projectID, relPath string, content []byte, kind types.FileKind) ([]types.Chunk, error) {
	if !utf8.Valid(content) {
		return nil, ErrNotUTF8
	}
	if kind == types.KindDoc {
		return chunkDoc(projectID, relPath, string(content)), nil
	}
	return chunkCode(projectID, relPath, string(content)), nil
}

// chunkCode walks the text line by line, emitting windows at line offsets
// 0, 40, 80, ... (stride = window - overlap).
func chunkCode(projectID, relPath, text string) []types.Chunk {
	lines := splitLines(text)
	stride := CodeWindowLines - CodeOverlapLines

	var chunks []types.Chunk
	ordinal := 0
	for start := 0; start < len(lines); start += stride {
		end := start + CodeWindowLines
		if end > len(lines) {
			end = len(lines)
		}
		window := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, types.Chunk{
				ID:        types.ChunkID(projectID, relPath, ordinal),
				ProjectID: projectID,
				Path:      relPath,
				Ordinal:   ordinal,
				StartLine: start + 1,
				EndLine:   end,
				Text:      window,
				Kind:      types.KindCode,
			})
			ordinal++
		}
	}
	return chunks
}

// docToken is a token with the 1-based line it starts on.
type docToken struct {
	text string
	line int
}

// chunkDoc emits token windows at offsets 0, 224, 448, ...
func chunkDoc(projectID, relPath, text string) []types.Chunk {
	tokens := tokenizeDoc(text)
	stride := DocWindowTokens - DocOverlapTokens

	var chunks []types.Chunk
	ordinal := 0
	for start := 0; start < len(tokens); start += stride {
		end := start + DocWindowTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		parts := make([]string, len(window))
		for i, t := range window {
			parts[i] = t.text
		}
		joined := strings.Join(parts, " ")
		if strings.TrimSpace(joined) != "" {
			chunks = append(chunks, types.Chunk{
				ID:        types.ChunkID(projectID, relPath, ordinal),
				ProjectID: projectID,
				Path:      relPath,
				Ordinal:   ordinal,
				StartLine: window[0].line,
				EndLine:   window[len(window)-1].line,
				Text:      joined,
				Kind:      types.KindDoc,
			})
			ordinal++
		}
	}
	return chunks
}

// tokenizeDoc yields whitespace-separated runs, with each CJK rune as its
// own token.
func tokenizeDoc(text string) []docToken {
	var tokens []docToken
	var buf strings.Builder
	line := 1
	tokenLine := 1

	flush := func() {
		if buf.Len() > 0 {
			tokens = append(tokens, docToken{text: buf.String(), line: tokenLine})
			buf.Reset()
		}
	}

	for _, r := range text {
		switch {
		case r == '\n':
			flush()
			line++
		case unicode.IsSpace(r):
			flush()
		case IsCJK(r):
			flush()
			tokens = append(tokens, docToken{text: string(r), line: line})
		default:
			if buf.Len() == 0 {
				tokenLine = line
			}
			buf.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// IsCJK reports whether r is a CJK ideograph or kana character.
func IsCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// splitLines splits on \n without dropping a trailing newline's effect:
// a final empty element from a trailing newline is removed so line counts
// match what an editor shows.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
