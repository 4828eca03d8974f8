package fingerprint

import (
	"time"

	"github.com/mevdschee/tqmemory/pkg/tqmemory"
)

// cacheTTL bounds how long a memoized fingerprint is trusted before being
// recomputed. Fingerprinting is pure, so this only trades a little memory
// for avoiding repeat scans of hot, frequently-reissued SQL texts; it never
// affects correctness.
const cacheTTL = 10 * time.Minute

// Cache memoizes Fingerprint(sql, Normalized) by SQL text, the way the
// teacher's query-result cache wraps the same sharded store for a different
// key space.
type Cache struct {
	store *tqmemory.ShardedCache
}

// NewCache creates a fingerprint memoization cache with the given number of
// shard workers.
func NewCache(workers int) (*Cache, error) {
	cfg := tqmemory.DefaultConfig()
	cfg.MaxMemory = 16 * 1024 * 1024
	store, err := tqmemory.NewSharded(cfg, workers)
	if err != nil {
		return nil, err
	}
	return &Cache{store: store}, nil
}

// Normalize returns the normalized fingerprint for sql, computing and
// caching it on a miss.
func (c *Cache) Normalize(sql string) string {
	if value, _, _, err := c.store.Get(sql); err == nil && value != nil {
		return string(value)
	}
	fp := Fingerprint(sql, Normalized)
	c.store.Set(sql, []byte(fp), cacheTTL)
	return fp
}

// Close releases the cache's background workers.
func (c *Cache) Close() error {
	return c.store.Close()
}
