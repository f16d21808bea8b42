package embeddings

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// Provider generates embeddings for documents and queries. EmbedDocuments
// returns one vector per input text, in input order. All vectors from a
// single provider have the same width, reported by Dimension.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Close() error
}

// modelDimensions maps known embedding models to their output width.
// Used to catch a model/dimension mismatch at startup instead of at the
// first write.
var modelDimensions = map[string]int{
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-large-en-v1.5":                 1024,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"nomic-ai/nomic-embed-text-v1.5":         768,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
}

// modelDimension reports the output width of a model, if known. Unknown
// models fall back to a name heuristic; models matching neither return
// ok=false and are trusted to match the configured dimension.
func modelDimension(model string) (int, bool) {
	if dim, ok := modelDimensions[model]; ok {
		return dim, true
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "large"):
		return 1024, true
	case strings.Contains(lower, "base"):
		return 768, true
	case strings.Contains(lower, "small"), strings.Contains(lower, "mini"):
		return 384, true
	}
	return 0, false
}

// NewProvider builds the configured embedding backend and wraps it with
// batching and query caching. The returned provider's Dimension is
// guaranteed to equal cfg.Dim; a known model that produces a different
// width fails construction so the mismatch surfaces at boot.
func NewProvider(cfg config.EmbeddingConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dim <= 0 {
		cfg.Dim = domain.EmbeddingDim
	}
	if dim, ok := modelDimension(cfg.Model); ok && dim != cfg.Dim {
		return nil, domain.Newf(domain.KindValidation,
			"embedding model %q produces %d-dimensional vectors, configured dimension is %d",
			cfg.Model, dim, cfg.Dim)
	}

	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var (
		inner Provider
		err   error
	)
	switch cfg.Provider {
	case "tei", "":
		inner, err = NewTEI(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.Key.Value(),
			Dimension: cfg.Dim,
			Timeout:   timeout,
		}, logger)
	case "openai":
		inner, err = NewOpenAI(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.Key.Value(),
			Dimension: cfg.Dim,
		}, logger)
	case "local":
		inner, err = NewLocal(LocalConfig{
			Model:     cfg.Model,
			CacheDir:  cfg.CacheDir,
			Dimension: cfg.Dim,
		}, logger)
	default:
		return nil, domain.Newf(domain.KindValidation,
			"unsupported embedding provider: %s (supported: tei, openai, local)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if inner.Dimension() != cfg.Dim {
		_ = inner.Close()
		return nil, domain.Newf(domain.KindValidation,
			"embedding provider %q reports dimension %d, configured dimension is %d",
			cfg.Provider, inner.Dimension(), cfg.Dim)
	}

	batched := NewBatching(inner, cfg.BatchSize, cfg.MaxInflight)
	return NewCached(batched, cfg.CacheSize, cfg.Model)
}
