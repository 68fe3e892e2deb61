package embedder

import (
	"github.com/locussearch/locus-mcp/internal/config"
)

// New builds the embedder for the given configuration: remote when an API
// key is configured, local otherwise. The returned dimension is what a new
// project's vector index will be frozen to.
func New(cfg config.EmbeddingConfig) Embedder {
	cache := NewCache(10000)
	if cfg.APIKey != "" {
		e, err := NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimension, cache)
		if err == nil {
			return e
		}
	}
	return NewLocalEmbedder(cache)
}
