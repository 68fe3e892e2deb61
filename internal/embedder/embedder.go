// Package embedder produces fixed-dimension, unit-normalized embeddings.
// A remote OpenAI-compatible provider is preferred; a deterministic local
// provider serves as fallback and for offline use.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors.
var (
	ErrEmptyText         = errors.New("embedder: text cannot be empty")
	ErrNoProviderEnabled = errors.New("embedder: no provider configured")
)

// Embedder generates embeddings for input strings. Implementations return
// one unit-normalized vector per input, all of dimension Dim().
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
	Name() string
}

// Cache is an in-memory LRU of embeddings keyed by content hash, shared
// across providers.
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates an embedding cache; size <= 0 uses the 10k default.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = 10000
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		c, _ = lru.New[string, []float32](10000)
	}
	return &Cache{cache: c}
}

// Get returns a copy of the cached vector for hash, if present.
func (c *Cache) Get(hash string) ([]float32, bool) {
	v, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a copy of the vector under hash.
func (c *Cache) Set(hash string, v []float32) {
	stored := make([]float32, len(v))
	copy(stored, v)
	c.cache.Add(hash, stored)
}

// HashText returns the cache key for a text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
