package search

import (
	"path/filepath"
	"sync"

	"github.com/hyperjump/ruiji/internal/indexer"
	"golang.org/x/sync/singleflight"
)

// ArtifactCache holds loaded index directories for reuse across queries.
// Concurrent first loads of the same directory share one LoadArtifacts call.
type ArtifactCache struct {
	mu      sync.RWMutex
	entries map[string]*indexer.Artifacts
	group   singleflight.Group
	loads   int
}

// NewArtifactCache returns an empty cache.
func NewArtifactCache() *ArtifactCache {
	return &ArtifactCache{entries: make(map[string]*indexer.Artifacts)}
}

func cacheKey(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}

// Get returns the artifacts for dir, loading them on first use.
func (c *ArtifactCache) Get(dir string) (*indexer.Artifacts, error) {
	key := cacheKey(dir)
	c.mu.RLock()
	a, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		a, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return a, nil
		}
		loaded, err := indexer.LoadArtifacts(dir)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = loaded
		c.loads++
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*indexer.Artifacts), nil
}

// Invalidate drops dir so the next Get reloads it. The evicted artifacts are not closed
// because in-flight queries may still be reading them.
func (c *ArtifactCache) Invalidate(dir string) {
	key := cacheKey(dir)
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// Loads returns how many times artifacts were read from disk.
func (c *ArtifactCache) Loads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loads
}

// Close releases every cached index.
func (c *ArtifactCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for key, a := range c.entries {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.entries, key)
	}
	return firstErr
}
