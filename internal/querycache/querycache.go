// Package querycache answers repeated queries from a two-tier cache: an
// exact tier keyed by a hash of the normalized query, and a semantic tier
// that matches prior query embeddings by cosine similarity.
package querycache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/locussearch/locus-mcp/internal/storage"
	"github.com/locussearch/locus-mcp/internal/vector"
	"github.com/locussearch/locus-mcp/pkg/types"
)

// Scope selects what Clear removes.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeExpired Scope = "expired"
)

const exactSchema = `
CREATE TABLE IF NOT EXISTS cache (
    key TEXT PRIMARY KEY,
    query TEXT NOT NULL,
    k INTEGER NOT NULL,
    result TEXT NOT NULL,
    expire_at INTEGER NOT NULL,
    last_used INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_last_used ON cache(last_used);
`

type memEntry struct {
	result    types.SearchResult
	expiresAt time.Time
}

// Cache is one project's query cache. The exact tier persists in SQLite
// with an in-memory LRU front; the semantic tier is a vector index over
// query embeddings. Each tier has its own lock.
type Cache struct {
	projectID string
	ttl       time.Duration
	max       int
	threshold float64

	exactMu sync.Mutex
	db      *sql.DB
	mem     *lru.Cache[string, memEntry]

	// semantic is nil for embedding-disabled projects; the tier is inert.
	semantic *vector.Index
}

// Options configure a cache instance.
type Options struct {
	TTL               time.Duration
	MaxEntries        int
	SemanticThreshold float64
	// Dim is the project's embedding dimension; zero disables the
	// semantic tier.
	Dim int
}

// Open loads the cache stores under projectDir.
func Open(projectDir, projectID string, opts Options) (*Cache, error) {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10000
	}
	if opts.SemanticThreshold <= 0 {
		opts.SemanticThreshold = 0.95
	}

	db, err := storage.Open(filepath.Join(projectDir, "cache_exact.db"))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(exactSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("querycache: schema: %w", err)
	}

	mem, err := lru.New[string, memEntry](opts.MaxEntries)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	c := &Cache{
		projectID: projectID,
		ttl:       opts.TTL,
		max:       opts.MaxEntries,
		threshold: opts.SemanticThreshold,
		db:        db,
		mem:       mem,
	}

	if opts.Dim > 0 {
		idxPath := filepath.Join(projectDir, "cache_semantic.idx")
		metaPath := filepath.Join(projectDir, "cache_semantic.meta.jsonl")
		sem, err := vector.Open(idxPath, metaPath, opts.Dim)
		if err != nil {
			// A corrupt semantic tier is not fatal: drop the files and
			// start over; the exact tier still works.
			_ = os.Remove(idxPath)
			_ = os.Remove(metaPath)
			sem, _ = vector.Open(idxPath, metaPath, opts.Dim)
		}
		c.semantic = sem
	}
	return c, nil
}

// Close releases the exact-tier database.
func (c *Cache) Close() error {
	c.exactMu.Lock()
	defer c.exactMu.Unlock()
	return c.db.Close()
}

// ExactKey derives the exact-tier key for a query.
func ExactKey(projectID, query string, k int) string {
	norm := strings.ToLower(strings.TrimSpace(query))
	sum := xxhash.Sum64String(norm + "\x00" + projectID + "\x00" + strconv.Itoa(k))
	return strconv.FormatUint(sum, 16)
}

// Get looks up a prior answer. qvec carries the query embedding for the
// semantic tier and may be nil, in which case only the exact tier is
// consulted.
func (c *Cache) Get(ctx context.Context, query string, k int, qvec []float32) (*types.SearchResult, bool) {
	key := ExactKey(c.projectID, query, k)

	if res, ok := c.getExact(ctx, key); ok {
		return res, true
	}

	if c.semantic == nil || qvec == nil {
		return nil, false
	}
	hits, err := c.semantic.Search(qvec, 1)
	if err != nil || len(hits) == 0 || hits[0].Score < c.threshold {
		return nil, false
	}
	res, ok := c.getExact(ctx, hits[0].ID)
	if !ok {
		// The semantic entry outlived its exact row (TTL); drop it.
		c.semantic.Delete(hits[0].ID)
		return nil, false
	}
	// Write through under the current query's key so the next identical
	// query hits the exact tier directly.
	c.putExact(ctx, key, query, k, *res)
	return res, true
}

func (c *Cache) getExact(ctx context.Context, key string) (*types.SearchResult, bool) {
	c.exactMu.Lock()
	defer c.exactMu.Unlock()

	now := time.Now()
	if e, ok := c.mem.Get(key); ok {
		if now.Before(e.expiresAt) {
			res := e.result
			return &res, true
		}
		c.mem.Remove(key)
	}

	var payload string
	var expireAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT result, expire_at FROM cache WHERE key = ?`, key).Scan(&payload, &expireAt)
	if err != nil {
		return nil, false
	}
	if now.Unix() >= expireAt {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
		return nil, false
	}

	var res types.SearchResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		_, _ = c.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
		return nil, false
	}
	_, _ = c.db.ExecContext(ctx, `UPDATE cache SET last_used = ? WHERE key = ?`, now.UnixNano(), key)
	c.mem.Add(key, memEntry{result: res, expiresAt: time.Unix(expireAt, 0)})
	return &res, true
}

// Put stores a fresh answer in both tiers.
func (c *Cache) Put(ctx context.Context, query string, k int, qvec []float32, result types.SearchResult) {
	key := ExactKey(c.projectID, query, k)
	c.putExact(ctx, key, query, k, result)

	if c.semantic != nil && qvec != nil {
		_ = c.semantic.Upsert([]vector.Meta{{ID: key}}, [][]float32{qvec})
		_ = c.semantic.Persist()
	}
}

func (c *Cache) putExact(ctx context.Context, key, query string, k int, result types.SearchResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	now := time.Now()
	expireAt := now.Add(c.ttl)

	c.exactMu.Lock()
	defer c.exactMu.Unlock()

	_, _ = c.db.ExecContext(ctx, `
		INSERT INTO cache (key, query, k, result, expire_at, last_used)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			result = excluded.result,
			expire_at = excluded.expire_at,
			last_used = excluded.last_used`,
		key, query, k, string(payload), expireAt.Unix(), now.UnixNano())
	c.mem.Add(key, memEntry{result: result, expiresAt: expireAt})
	c.evictLocked(ctx)
}

// evictLocked enforces the per-project entry bound, least recently used
// first.
func (c *Cache) evictLocked(ctx context.Context) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache`).Scan(&n); err != nil || n <= c.max {
		return
	}
	_, _ = c.db.ExecContext(ctx, `
		DELETE FROM cache WHERE key IN (
			SELECT key FROM cache ORDER BY last_used ASC LIMIT ?
		)`, n-c.max)
}

// Clear removes entries per scope.
func (c *Cache) Clear(ctx context.Context, scope Scope) error {
	c.exactMu.Lock()
	defer c.exactMu.Unlock()

	switch scope {
	case ScopeExpired:
		_, err := c.db.ExecContext(ctx, `DELETE FROM cache WHERE expire_at <= ?`, time.Now().Unix())
		c.mem.Purge()
		return err
	default:
		if _, err := c.db.ExecContext(ctx, `DELETE FROM cache`); err != nil {
			return err
		}
		c.mem.Purge()
		if c.semantic != nil {
			c.semantic.Clear()
			_ = c.semantic.Persist()
		}
		return nil
	}
}

// Status reports per-tier entry counts.
func (c *Cache) Status(ctx context.Context) types.CacheStatus {
	c.exactMu.Lock()
	var n int
	_ = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache WHERE expire_at > ?`,
		time.Now().Unix()).Scan(&n)
	c.exactMu.Unlock()

	st := types.CacheStatus{ExactEntries: n}
	if c.semantic != nil {
		st.SemanticEntries = c.semantic.Count()
	}
	return st
}
