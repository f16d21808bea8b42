package embeddings

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

const (
	defaultBatchSize   = 32
	defaultMaxInflight = 2
)

// Batching splits large EmbedDocuments calls into fixed-width batches and
// bounds how many run against the upstream at once. Output order matches
// input order regardless of batch completion order.
type Batching struct {
	inner       Provider
	batchSize   int
	maxInflight int
}

// NewBatching wraps a provider with batch splitting. Non-positive sizes
// fall back to the defaults.
func NewBatching(inner Provider, batchSize, maxInflight int) *Batching {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxInflight <= 0 {
		maxInflight = defaultMaxInflight
	}
	return &Batching{inner: inner, batchSize: batchSize, maxInflight: maxInflight}
}

// EmbedDocuments embeds texts in batches of at most batchSize. Any batch
// failure fails the whole call; partial results are never returned.
func (b *Batching) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) <= b.batchSize {
		return b.inner.EmbedDocuments(ctx, texts)
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxInflight)

	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		g.Go(func() error {
			vectors, err := b.inner.EmbedDocuments(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vectors) != end-start {
				return domain.Newf(domain.KindEmbeddingUnavailable,
					"embedding batch returned %d vectors for %d inputs", len(vectors), end-start)
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery passes through to the wrapped provider.
func (b *Batching) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return b.inner.EmbedQuery(ctx, text)
}

// Dimension reports the wrapped provider's vector width.
func (b *Batching) Dimension() int { return b.inner.Dimension() }

// Close closes the wrapped provider.
func (b *Batching) Close() error { return b.inner.Close() }

var _ Provider = (*Batching)(nil)
