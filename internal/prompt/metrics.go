package prompt

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/ragd/internal/prompt"
	ringCapacity        = 1024
)

// Recorder keeps the last ringCapacity token reports in memory for
// inspection and mirrors them to otel counters. The ring is advisory
// accounting; nothing routes on it.
type Recorder struct {
	mu    sync.Mutex
	ring  [ringCapacity]domain.TokenMetrics
	next  int
	count int

	tokens    metric.Int64Counter
	cacheHits metric.Int64Counter
}

// NewRecorder creates a token recorder bound to the global meter
// provider. Instrument failures degrade to logging.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{}
	meter := otel.Meter(instrumentationName)

	var err error
	r.tokens, err = meter.Int64Counter(
		"ragd.prompt.tokens",
		metric.WithDescription("Estimated prompt tokens by segment"),
	)
	if err != nil {
		logger.Warn("failed to create prompt token counter", zap.Error(err))
	}
	r.cacheHits, err = meter.Int64Counter(
		"ragd.prompt.cache_lookups",
		metric.WithDescription("Prompt cache lookups by outcome"),
	)
	if err != nil {
		logger.Warn("failed to create prompt cache counter", zap.Error(err))
	}
	return r
}

// Record stores one turn's token report. Safe on a nil receiver.
func (r *Recorder) Record(ctx context.Context, m domain.TokenMetrics) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.ring[r.next] = m
	r.next = (r.next + 1) % ringCapacity
	if r.count < ringCapacity {
		r.count++
	}
	r.mu.Unlock()

	if r.tokens != nil {
		r.tokens.Add(ctx, int64(m.SystemTokens), metric.WithAttributes(attribute.String("segment", "system")))
		r.tokens.Add(ctx, int64(m.HistoryTokens), metric.WithAttributes(attribute.String("segment", "history")))
		r.tokens.Add(ctx, int64(m.UserTokens), metric.WithAttributes(attribute.String("segment", "user")))
	}
	if r.cacheHits != nil {
		outcome := "miss"
		if m.WasCached {
			outcome = "hit"
		}
		r.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// Snapshot returns the recorded reports oldest first.
func (r *Recorder) Snapshot() []domain.TokenMetrics {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.TokenMetrics, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += ringCapacity
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.ring[(start+i)%ringCapacity])
	}
	return out
}
