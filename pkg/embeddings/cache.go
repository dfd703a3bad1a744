package embeddings

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a size-bounded, content-addressed embedding cache. Entries
// are never mutated, only added or evicted; eviction returns "absent",
// never a stale vector. Safe for concurrent use.
//
// The cache has an explicit lifecycle: constructed at startup and
// passed to the Batcher as a dependency. There is no package-level
// singleton.
type Cache struct {
	entries *lru.Cache[Fingerprint, []float32]
}

// DefaultCacheSize bounds the cache when no size is given.
const DefaultCacheSize = 65536

// NewCache creates a cache holding at most size vectors.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[Fingerprint, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Get returns the cached vector for fp, or absent.
func (c *Cache) Get(fp Fingerprint) ([]float32, bool) {
	return c.entries.Get(fp)
}

// Put stores a vector under fp. Re-putting the same vector is a
// no-op; a different vector for an existing fingerprint fails with
// ErrFingerprintConflict.
func (c *Cache) Put(fp Fingerprint, vector []float32) error {
	if existing, ok := c.entries.Get(fp); ok {
		if !vectorsEqual(existing, vector) {
			return fmt.Errorf("%w: %s", ErrFingerprintConflict, fp)
		}
		return nil
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)
	c.entries.Add(fp, stored)
	return nil
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func vectorsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
