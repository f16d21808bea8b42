package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/embeddings"

// Metrics records embedding generation telemetry. Instrument creation
// failures degrade to logging; they never block embedding.
type Metrics struct {
	model  string
	logger *zap.Logger

	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics creates embedding metrics bound to the global meter provider.
func NewMetrics(model string, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{model: model, logger: logger}
	meter := otel.Meter(instrumentationName)

	var err error
	m.duration, err = meter.Float64Histogram(
		"ragd.embedding.duration",
		metric.WithDescription("Time spent generating embeddings"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create embedding duration histogram", zap.Error(err))
	}
	m.batchSize, err = meter.Int64Histogram(
		"ragd.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding request"),
	)
	if err != nil {
		logger.Warn("failed to create embedding batch size histogram", zap.Error(err))
	}
	m.errors, err = meter.Int64Counter(
		"ragd.embedding.errors",
		metric.WithDescription("Embedding requests that failed"),
	)
	if err != nil {
		logger.Warn("failed to create embedding error counter", zap.Error(err))
	}
	return m
}

// RecordGeneration records one embedding call. Safe on a nil receiver.
func (m *Metrics) RecordGeneration(ctx context.Context, operation string, elapsed time.Duration, batch int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", m.model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batch), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}
