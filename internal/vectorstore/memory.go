package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// Memory implements Store with exact cosine search in process memory.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	byFile    map[int64][]domain.Chunk
}

// NewMemory creates an empty in-memory store with the given dimension.
func NewMemory(dimension int) *Memory {
	if dimension <= 0 {
		dimension = domain.EmbeddingDim
	}
	return &Memory{
		dimension: dimension,
		byFile:    make(map[int64][]domain.Chunk),
	}
}

// UpsertChunks writes a batch of chunks keyed by (file, index). Successive
// batches for the same file accumulate; a chunk with a seen index is
// overwritten.
func (s *Memory) UpsertChunks(_ context.Context, fileID int64, chunks []domain.Chunk) (int, error) {
	for _, c := range chunks {
		if err := checkDimension(c.Embedding, s.dimension); err != nil {
			return 0, err
		}
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.byFile[fileID]
	for _, c := range chunks {
		replaced := false
		for i := range existing {
			if existing[i].Index == c.Index {
				existing[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, c)
		}
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].Index < existing[j].Index })
	s.byFile[fileID] = existing
	return len(chunks), nil
}

// Search returns the k nearest chunks by exact cosine distance.
func (s *Memory) Search(_ context.Context, fileID *int64, query []float32, k int) ([]Scored, error) {
	if err := checkDimension(query, s.dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Scored
	for fid, chunks := range s.byFile {
		if fileID != nil && fid != *fileID {
			continue
		}
		for _, c := range chunks {
			out = append(out, Scored{Chunk: c, Distance: cosineDistance(query, c.Embedding)})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		if out[i].Chunk.FileID != out[j].Chunk.FileID {
			return out[i].Chunk.FileID < out[j].Chunk.FileID
		}
		return out[i].Chunk.Index < out[j].Chunk.Index
	})

	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// DeleteByFile removes all chunks for a file.
func (s *Memory) DeleteByFile(_ context.Context, fileID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.byFile[fileID])
	delete(s.byFile, fileID)
	return n, nil
}

// CountChunks returns the number of stored chunks.
func (s *Memory) CountChunks(_ context.Context, fileID *int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if fileID != nil {
		return len(s.byFile[*fileID]), nil
	}
	n := 0
	for _, chunks := range s.byFile {
		n += len(chunks)
	}
	return n, nil
}

// Close is a no-op.
func (s *Memory) Close() {}

// cosineDistance is 1 - cosine similarity. Zero-norm vectors are treated
// as maximally distant from everything.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

var _ Store = (*Memory)(nil)
