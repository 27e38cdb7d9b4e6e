package embedding

import (
	"container/list"
	"context"
	"image"
	"sync"
)

// EmbeddingCache is an LRU cache of text embeddings. A non-positive capacity disables caching.
type EmbeddingCache struct {
	capacity int
	entries  map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewEmbeddingCache creates a cache holding at most capacity embeddings.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for key and marks it recently used.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores the embedding for key, evicting the least recently used entry when full.
func (c *EmbeddingCache) Set(key string, value []float32) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, value: value})
	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CachedProvider memoizes text embeddings of an underlying Provider. Image embeddings pass through.
type CachedProvider struct {
	Provider
	cache *EmbeddingCache
}

// NewCachedProvider wraps p with an LRU text cache of the given size.
func NewCachedProvider(p Provider, size int) *CachedProvider {
	return &CachedProvider{Provider: p, cache: NewEmbeddingCache(size)}
}

// EmbedImages delegates to the wrapped provider.
func (c *CachedProvider) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	return c.Provider.EmbedImages(ctx, images)
}

// EmbedTexts serves cached texts and embeds the rest in one call, preserving input order.
func (c *CachedProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = copyVector(v)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	embs, err := c.Provider.EmbedTexts(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, emb := range embs {
		out[missingIdx[j]] = emb
		c.cache.Set(missing[j], copyVector(emb))
	}
	return out, nil
}

func copyVector(v []float32) []float32 {
	return append([]float32(nil), v...)
}
