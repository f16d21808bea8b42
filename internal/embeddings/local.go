//go:build cgo

package embeddings

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// localModels maps friendly model names to fastembed constants. Bare
// fastembed names ("fast-bge-base-en-v1.5") are accepted directly.
var localModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// localModelWidths maps fastembed models to their vector width.
var localModelWidths = map[fastembed.EmbeddingModel]int{
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.AllMiniLML6V2: 384,
}

const localMaxLength = 512

// LocalConfig configures the in-process fastembed provider.
type LocalConfig struct {
	Model     string
	CacheDir  string
	Dimension int
}

// Local runs ONNX embedding models in-process through fastembed. The
// RWMutex lets embeds run concurrently while Close waits for them to
// drain before destroying the model.
type Local struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	metrics   *Metrics
	mu        sync.RWMutex
}

// NewLocal loads an ONNX model, downloading it into the cache directory
// on first use.
func NewLocal(cfg LocalConfig, logger *zap.Logger) (*Local, error) {
	model, ok := localModels[cfg.Model]
	if !ok {
		model = fastembed.EmbeddingModel(cfg.Model)
		if _, known := localModelWidths[model]; !known {
			return nil, domain.Newf(domain.KindValidation,
				"unsupported local embedding model %q (supported: BAAI/bge-base-en-v1.5, BAAI/bge-small-en-v1.5, sentence-transformers/all-MiniLM-L6-v2)",
				cfg.Model)
		}
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		if base, err := os.UserCacheDir(); err == nil {
			cacheDir = filepath.Join(base, "ragd", "models")
		} else {
			cacheDir = filepath.Join(".", "models")
		}
	}

	// Progress bars corrupt structured log output.
	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            localMaxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindEmbeddingUnavailable, "initialize local embedding model", err)
	}

	return &Local{
		model:     flagEmbed,
		modelName: cfg.Model,
		dimension: localModelWidths[model],
		metrics:   NewMetrics(cfg.Model, logger),
	}, nil
}

// EmbedDocuments embeds passages with the "passage: " prefix BGE models
// expect.
func (l *Local) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, domain.New(domain.KindValidation, "texts cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := time.Now()
	vectors, err := l.model.PassageEmbed(texts, 256)
	l.metrics.RecordGeneration(ctx, "embed_documents", time.Since(start), len(texts), err)
	if err != nil {
		return nil, domain.Wrap(domain.KindEmbeddingUnavailable, "embed documents", err)
	}
	return vectors, nil
}

// EmbedQuery embeds a query with the "query: " prefix BGE models expect.
func (l *Local) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, domain.New(domain.KindValidation, "text cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := time.Now()
	vector, err := l.model.QueryEmbed(text)
	l.metrics.RecordGeneration(ctx, "embed_query", time.Since(start), 1, err)
	if err != nil {
		return nil, domain.Wrap(domain.KindEmbeddingUnavailable, "embed query", err)
	}
	return vector, nil
}

// Dimension reports the model's vector width.
func (l *Local) Dimension() int { return l.dimension }

// Close destroys the ONNX session once in-flight embeds finish.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model != nil {
		err := l.model.Destroy()
		l.model = nil
		return err
	}
	return nil
}

var _ Provider = (*Local)(nil)
