package embeddings

import (
	"context"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// OpenAIConfig configures the OpenAI-compatible embedding client.
type OpenAIConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
}

// OpenAI embeds text through any OpenAI-compatible /v1/embeddings endpoint
// via langchaingo. This covers the hosted OpenAI API and self-hosted
// servers exposing the same wire format.
type OpenAI struct {
	embedder  lcembeddings.Embedder
	model     string
	dimension int
	metrics   *Metrics
}

// NewOpenAI creates an OpenAI-compatible provider. langchaingo requires a
// token even for servers that ignore authentication, so an empty APIKey is
// replaced with a placeholder.
func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger) (*OpenAI, error) {
	if cfg.BaseURL == "" {
		return nil, domain.New(domain.KindValidation, "embedding base_url is required for the openai provider")
	}
	if cfg.Model == "" {
		return nil, domain.New(domain.KindValidation, "embedding model is required for the openai provider")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = domain.EmbeddingDim
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, domain.Wrap(domain.KindEmbeddingUnavailable, "create openai embedding client", err)
	}
	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, domain.Wrap(domain.KindEmbeddingUnavailable, "create embedder", err)
	}

	return &OpenAI{
		embedder:  embedder,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		metrics:   NewMetrics(cfg.Model, logger),
	}, nil
}

// EmbedDocuments embeds a batch of passages, one vector per input in
// input order.
func (o *OpenAI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, domain.New(domain.KindValidation, "texts cannot be empty")
	}
	start := time.Now()
	vectors, err := o.embedder.EmbedDocuments(ctx, texts)
	o.metrics.RecordGeneration(ctx, "embed_documents", time.Since(start), len(texts), err)
	if err != nil {
		return nil, domain.Wrap(domain.KindEmbeddingUnavailable, "embed documents", err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.Newf(domain.KindEmbeddingUnavailable,
			"embedding server returned %d vectors for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (o *OpenAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, domain.New(domain.KindValidation, "text cannot be empty")
	}
	start := time.Now()
	vector, err := o.embedder.EmbedQuery(ctx, text)
	o.metrics.RecordGeneration(ctx, "embed_query", time.Since(start), 1, err)
	if err != nil {
		return nil, domain.Wrap(domain.KindEmbeddingUnavailable, "embed query", err)
	}
	return vector, nil
}

// Dimension reports the configured vector width.
func (o *OpenAI) Dimension() int { return o.dimension }

// Close is a no-op.
func (o *OpenAI) Close() error { return nil }

var _ Provider = (*OpenAI)(nil)
