package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// TEIConfig configures the text-embeddings-inference client.
type TEIConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
	Timeout   time.Duration
}

// TEI embeds text through a Hugging Face text-embeddings-inference server.
// The server is started with a fixed model, so requests carry only the
// inputs; Truncate keeps over-long passages from failing the whole batch.
type TEI struct {
	baseURL   string
	model     string
	apiKey    string
	dimension int
	client    *http.Client
	metrics   *Metrics
}

type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// NewTEI creates a TEI provider. BaseURL must point at the server root;
// the /embed path is appended per request.
func NewTEI(cfg TEIConfig, logger *zap.Logger) (*TEI, error) {
	if cfg.BaseURL == "" {
		return nil, domain.New(domain.KindValidation, "embedding base_url is required for the tei provider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = domain.EmbeddingDim
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TEI{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: cfg.Timeout},
		metrics:   NewMetrics(cfg.Model, logger),
	}, nil
}

// EmbedDocuments embeds a batch of passages, one vector per input in
// input order.
func (t *TEI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, domain.New(domain.KindValidation, "texts cannot be empty")
	}
	start := time.Now()
	vectors, err := t.embed(ctx, texts)
	t.metrics.RecordGeneration(ctx, "embed_documents", time.Since(start), len(texts), err)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, domain.Newf(domain.KindEmbeddingUnavailable,
			"embedding server returned %d vectors for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (t *TEI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, domain.New(domain.KindValidation, "text cannot be empty")
	}
	start := time.Now()
	vectors, err := t.embed(ctx, []string{text})
	t.metrics.RecordGeneration(ctx, "embed_query", time.Since(start), 1, err)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, domain.Newf(domain.KindEmbeddingUnavailable,
			"embedding server returned %d vectors for 1 input", len(vectors))
	}
	return vectors[0], nil
}

func (t *TEI) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "marshal embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindEmbeddingUnavailable, "embedding request failed", err).
			WithMeta("base_url", t.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.Newf(domain.KindEmbeddingUnavailable,
			"embedding server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))).
			WithMeta("status", resp.StatusCode)
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, domain.Wrap(domain.KindEmbeddingUnavailable, "decode embedding response", err)
	}
	return vectors, nil
}

// Dimension reports the configured vector width.
func (t *TEI) Dimension() int { return t.dimension }

// Close is a no-op; the HTTP client holds no resources needing release.
func (t *TEI) Close() error { return nil }

// String identifies the provider in logs.
func (t *TEI) String() string {
	return fmt.Sprintf("tei(%s, model=%s)", t.baseURL, t.model)
}

var _ Provider = (*TEI)(nil)
