package embedder

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/locussearch/locus-mcp/internal/vector"
)

// LocalDim is the dimension of locally computed embeddings. Local and
// remote dimensions differ and are never interchangeable.
const LocalDim = 384

// LocalEmbedder computes embeddings in-process: hashed word and character
// trigram features folded into a fixed-width vector, then L2-normalized.
// Deterministic, so also used as the test embedder.
type LocalEmbedder struct {
	cache *Cache
}

// NewLocalEmbedder creates a local embedder.
func NewLocalEmbedder(cache *Cache) *LocalEmbedder {
	return &LocalEmbedder{cache: cache}
}

func (l *LocalEmbedder) Dim() int     { return LocalDim }
func (l *LocalEmbedder) Name() string { return "local-hash" }

func (l *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if text == "" {
			return nil, ErrEmptyText
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hash := HashText(text)
		if l.cache != nil {
			if v, ok := l.cache.Get(hash); ok {
				out[i] = v
				continue
			}
		}
		vec := embedLocal(text)
		out[i] = vec
		if l.cache != nil {
			l.cache.Set(hash, vec)
		}
	}
	return out, nil
}

func embedLocal(text string) []float32 {
	vec := make([]float32, LocalDim)
	for _, word := range splitWords(text) {
		addFeature(vec, word, 1.0)
		// Character trigrams give partial-match signal between related
		// identifiers (get_user vs getUserByID).
		runes := []rune(word)
		for i := 0; i+3 <= len(runes); i++ {
			addFeature(vec, string(runes[i:i+3]), 0.5)
		}
	}
	vector.Normalize(vec)
	return vec
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	slot := int(sum % uint64(len(vec)))
	// The next bit decides the sign, balancing the vector around zero.
	if (sum>>63)&1 == 1 {
		weight = -weight
	}
	vec[slot] += weight
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
