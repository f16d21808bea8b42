//go:build !cgo

package embeddings

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// LocalConfig configures the in-process fastembed provider.
type LocalConfig struct {
	Model     string
	CacheDir  string
	Dimension int
}

// Local is a stub for binaries built without cgo; fastembed needs the
// ONNX runtime. Use the tei or openai provider instead.
type Local struct{}

// NewLocal always fails without cgo.
func NewLocal(_ LocalConfig, _ *zap.Logger) (*Local, error) {
	return nil, domain.New(domain.KindValidation,
		"local embedding provider requires a cgo build (use the tei or openai provider)")
}

func (l *Local) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, domain.New(domain.KindEmbeddingUnavailable, "local embedding provider not built in")
}

func (l *Local) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, domain.New(domain.KindEmbeddingUnavailable, "local embedding provider not built in")
}

func (l *Local) Dimension() int { return 0 }

func (l *Local) Close() error { return nil }

var _ Provider = (*Local)(nil)
