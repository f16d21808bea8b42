package indexer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/indexer"

// Run outcomes recorded per pipeline run.
const (
	outcomeIndexed = "indexed"
	outcomeError   = "error"
	outcomeAborted = "aborted"
)

// Metrics records pipeline telemetry. Instrument creation failures
// degrade to logging; they never block indexing.
type Metrics struct {
	logger *zap.Logger

	runs     metric.Int64Counter
	duration metric.Float64Histogram
	chunks   metric.Int64Histogram
}

// NewMetrics creates indexing metrics bound to the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{logger: logger}
	meter := otel.Meter(instrumentationName)

	var err error
	m.runs, err = meter.Int64Counter(
		"ragd.index.runs",
		metric.WithDescription("Pipeline runs by outcome"),
	)
	if err != nil {
		logger.Warn("failed to create index run counter", zap.Error(err))
	}
	m.duration, err = meter.Float64Histogram(
		"ragd.index.duration",
		metric.WithDescription("Time spent indexing one file"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create index duration histogram", zap.Error(err))
	}
	m.chunks, err = meter.Int64Histogram(
		"ragd.index.chunks",
		metric.WithDescription("Chunks written per indexed file"),
	)
	if err != nil {
		logger.Warn("failed to create index chunk histogram", zap.Error(err))
	}
	return m
}

// RecordRun records one pipeline run. Safe on a nil receiver.
func (m *Metrics) RecordRun(ctx context.Context, outcome string, elapsed time.Duration, chunks int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.runs != nil {
		m.runs.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if outcome == outcomeIndexed && m.chunks != nil {
		m.chunks.Record(ctx, int64(chunks))
	}
}
