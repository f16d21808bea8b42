package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

const defaultCacheSize = 512

// Cached memoizes query embeddings in an LRU cache. Chat turns repeat
// queries far more often than the indexer repeats documents, so only
// EmbedQuery is cached; EmbedDocuments passes through.
type Cached struct {
	inner Provider
	cache *lru.Cache[string, []float32]
	model string
}

// NewCached wraps a provider with a query cache of the given capacity.
func NewCached(inner Provider, size int, model string) (*Cached, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "create embedding cache", err)
	}
	return &Cached{inner: inner, cache: cache, model: model}, nil
}

// cacheKey hashes model and text together so a model change never serves
// stale vectors.
func (c *Cached) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(c.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// EmbedQuery returns the cached vector when the same query was embedded
// before, otherwise embeds and stores it.
func (c *Cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vector, ok := c.cache.Get(key); ok {
		return vector, nil
	}
	vector, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vector)
	return vector, nil
}

// EmbedDocuments passes through to the wrapped provider.
func (c *Cached) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedDocuments(ctx, texts)
}

// Dimension reports the wrapped provider's vector width.
func (c *Cached) Dimension() int { return c.inner.Dimension() }

// Close closes the wrapped provider.
func (c *Cached) Close() error { return c.inner.Close() }

var _ Provider = (*Cached)(nil)
