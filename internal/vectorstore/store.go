package vectorstore

import (
	"context"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// Scored is a chunk paired with its cosine distance to the query vector.
// Distance is raw (0 identical, 2 opposite); callers derive similarity
// as 1 - Distance where they need it.
type Scored struct {
	Chunk    domain.Chunk
	Distance float64
}

// Store persists chunk embeddings and searches them by cosine distance.
type Store interface {
	// UpsertChunks writes a batch of chunks keyed by (file, index),
	// returning the number written. The batch applies atomically and
	// successive batches for a file accumulate. Vectors whose length
	// differs from the store dimension fail with kind dimension_mismatch
	// before any write.
	UpsertChunks(ctx context.Context, fileID int64, chunks []domain.Chunk) (int, error)

	// Search returns the k nearest chunks by cosine distance, ascending,
	// ties broken by chunk index. A nil fileID searches every file.
	Search(ctx context.Context, fileID *int64, query []float32, k int) ([]Scored, error)

	// DeleteByFile removes all chunks for a file, returning how many
	// rows were removed.
	DeleteByFile(ctx context.Context, fileID int64) (int, error)

	// CountChunks returns the number of stored chunks, optionally
	// restricted to one file.
	CountChunks(ctx context.Context, fileID *int64) (int, error)

	// Close releases held resources.
	Close()
}

// checkDimension validates a vector's width against the store dimension.
func checkDimension(vec []float32, want int) error {
	if len(vec) != want {
		return domain.Newf(domain.KindDimensionMismatch,
			"embedding dimension %d, want %d", len(vec), want)
	}
	return nil
}
