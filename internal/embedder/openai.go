package embedder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/locussearch/locus-mcp/internal/vector"
	"github.com/locussearch/locus-mcp/pkg/types"
)

// MaxBatchSize caps the number of texts per remote API call.
const MaxBatchSize = 64

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
	cache  *Cache
	retry  RetryConfig
}

// NewOpenAIEmbedder builds a remote embedder. baseURL may be empty for the
// default endpoint; dim is the project dimension every response must match.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dim int, cache *Cache) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, ErrNoProviderEnabled
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dim:    dim,
		cache:  cache,
		retry:  DefaultRetryConfig(),
	}, nil
}

func (e *OpenAIEmbedder) Dim() int     { return e.dim }
func (e *OpenAIEmbedder) Name() string { return "openai:" + e.model }

// Embed produces one unit vector per text, batching remote calls and
// serving repeats from the cache.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	// Resolve cache hits first; collect the misses.
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if text == "" {
			return nil, ErrEmptyText
		}
		if e.cache != nil {
			if v, ok := e.cache.Get(HashText(text)); ok {
				out[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	for start := 0; start < len(missTexts); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		batch := missTexts[start:end]

		vecs, err := retryWithBackoff(ctx, e.retry, isRetryable, func() ([][]float32, error) {
			return e.callAPI(ctx, batch)
		})
		if err != nil {
			var dm *types.DimensionMismatchError
			if errors.As(err, &dm) {
				return nil, err
			}
			return nil, &types.TransientError{Op: "embed", Err: err}
		}

		for j, vec := range vecs {
			idx := missIdx[start+j]
			out[idx] = vec
			if e.cache != nil {
				e.cache.Set(HashText(texts[idx]), vec)
			}
		}
	}
	return out, nil
}

func (e *OpenAIEmbedder) callAPI(ctx context.Context, batch []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: batch,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("embedder: got %d embeddings for %d inputs", len(resp.Data), len(batch))
	}

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) != e.dim {
			return nil, &types.DimensionMismatchError{Want: e.dim, Got: len(d.Embedding)}
		}
		vec := make([]float32, e.dim)
		copy(vec, d.Embedding)
		vector.Normalize(vec)
		vecs[i] = vec
	}
	return vecs, nil
}

// isRetryable allows retry on network errors and server-side failures, but
// not on dimension mismatches or client errors.
func isRetryable(err error) bool {
	var dm *types.DimensionMismatchError
	if errors.As(err, &dm) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == 429
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Connection-level failures arrive as url.Error strings.
	return strings.Contains(err.Error(), "connection") ||
		strings.Contains(err.Error(), "EOF")
}
