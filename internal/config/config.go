// Package config loads engine configuration from an optional YAML file
// overlaid with LOCUS_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full engine configuration.
type Config struct {
	DataDir string `koanf:"data_dir"`

	Embedding EmbeddingConfig `koanf:"embedding"`
	LLM       LLMConfig       `koanf:"llm"`
	Cache     CacheConfig     `koanf:"cache"`
	Search    SearchConfig    `koanf:"search"`
	Indexing  IndexingConfig  `koanf:"indexing"`
}

// EmbeddingConfig selects and parameterizes the embedding provider.
type EmbeddingConfig struct {
	BaseURL    string `koanf:"base_url"`
	Model      string `koanf:"model"`
	APIKey     string `koanf:"api_key"`
	Dimension  int    `koanf:"dimension"`
	BatchSize  int    `koanf:"batch_size"`
	TimeoutSec int    `koanf:"timeout_sec"`
}

// LLMConfig parameterizes the rerank/answer model.
type LLMConfig struct {
	BaseURL    string `koanf:"base_url"`
	Model      string `koanf:"model"`
	APIKey     string `koanf:"api_key"`
	TimeoutSec int    `koanf:"timeout_sec"`
}

// CacheConfig parameterizes the query cache.
type CacheConfig struct {
	TTLSec            int     `koanf:"ttl_sec"`
	MaxEntries        int     `koanf:"max_entries"`
	SemanticThreshold float64 `koanf:"semantic_threshold"`
}

// SearchConfig holds the default hybrid fusion weights.
type SearchConfig struct {
	KeywordWeight float64 `koanf:"keyword_weight"`
	VectorWeight  float64 `koanf:"vector_weight"`
	// ChunkByteBudget caps per-chunk text in the rerank prompt.
	ChunkByteBudget int `koanf:"chunk_byte_budget"`
}

// IndexingConfig bounds the catch-up pass.
type IndexingConfig struct {
	TimeoutSec int `koanf:"timeout_sec"`
	IdleSec    int `koanf:"idle_sec"`
	Workers    int `koanf:"workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir: filepath.Join(home, ".locus"),
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimension:  1536,
			BatchSize:  64,
			TimeoutSec: 30,
		},
		LLM: LLMConfig{
			Model:      "gpt-4o-mini",
			TimeoutSec: 30,
		},
		Cache: CacheConfig{
			TTLSec:            3600,
			MaxEntries:        10000,
			SemanticThreshold: 0.95,
		},
		Search: SearchConfig{
			KeywordWeight:   0.5,
			VectorWeight:    0.5,
			ChunkByteBudget: 2048,
		},
		Indexing: IndexingConfig{
			TimeoutSec: 300,
			IdleSec:    60,
		},
	}
}

// Load reads configuration from path (ignored when empty or missing), then
// overlays LOCUS_* environment variables. LOCUS_EMBEDDING_API_KEY maps to
// embedding.api_key, and so on.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: accessing %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("LOCUS_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "LOCUS_"))
		// The first underscore separates the section from the key.
		if i := strings.Index(s, "_"); i > 0 {
			if isSection(s[:i]) {
				return s[:i] + "." + s[i+1:]
			}
		}
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("config: env overlay: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func isSection(s string) bool {
	switch s {
	case "embedding", "llm", "cache", "search", "indexing":
		return true
	}
	return false
}

// EmbedTimeout returns the embedder call deadline.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutSec) * time.Second
}

// LLMTimeout returns the LLM call deadline.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSec) * time.Second
}

// CatchUpTimeout returns the whole-pass catch-up deadline.
func (c *Config) CatchUpTimeout() time.Duration {
	return time.Duration(c.Indexing.TimeoutSec) * time.Second
}

// CatchUpIdle returns the no-progress watchdog deadline.
func (c *Config) CatchUpIdle() time.Duration {
	return time.Duration(c.Indexing.IdleSec) * time.Second
}

// CacheTTL returns the query-cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}
