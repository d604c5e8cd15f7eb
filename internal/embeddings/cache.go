package embeddings

import (
	"context"
	"crypto/sha256"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheKey [sha256.Size]byte

// Cached memoises an Embedder by the SHA-256 of each text.
type Cached struct {
	next  Embedder
	cache *lru.Cache[cacheKey, []float32]
}

// NewCached wraps next with an LRU of size entries.
func NewCached(next Embedder, size int) (*Cached, error) {
	cache, err := lru.New[cacheKey, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("%w: cache size %d: %v", ErrInvalidConfig, size, err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := sha256.Sum256([]byte(text))
	if v, ok := c.cache.Get(key); ok {
		return clone(v), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, clone(v))
	return v, nil
}

// EmbedBatch forwards only the texts that miss the cache.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]cacheKey, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		keys[i] = sha256.Sum256([]byte(text))
		if v, ok := c.cache.Get(keys[i]); ok {
			out[i] = clone(v)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), len(missing))
	}
	for j, i := range missingIdx {
		out[i] = vecs[j]
		c.cache.Add(keys[i], clone(vecs[j]))
	}
	return out, nil
}

// Len reports the number of cached texts.
func (c *Cached) Len() int { return c.cache.Len() }

func (c *Cached) Dimension() int { return c.next.Dimension() }

func (c *Cached) Close() error {
	c.cache.Purge()
	return c.next.Close()
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
