package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

// NewStore creates a Store from the vector backend configuration.
//
//   - "pgvector" (default): Postgres with the vector extension.
//   - "memory": exact in-process search, no external dependencies.
func NewStore(ctx context.Context, cfg config.VectorConfig, dimension int, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "pgvector", "":
		return NewPGVector(ctx, PGConfig{
			URL:        cfg.URL,
			MaxConns:   cfg.MaxConns,
			Dimension:  dimension,
			IndexLists: cfg.IndexLists,
		}, logger)

	case "memory":
		return NewMemory(dimension), nil

	default:
		return nil, fmt.Errorf("unsupported vector backend: %s (supported: pgvector, memory)", cfg.Backend)
	}
}
