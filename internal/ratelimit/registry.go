// Package ratelimit enforces per-client request budgets at the HTTP
// boundary. Each (client, endpoint class) pair gets its own token
// bucket, created on first use and dropped again after a period of
// inactivity.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/ratelimit"

// Endpoint classes. Every route maps to exactly one class; unlisted
// routes fall under ClassDefault.
const (
	ClassRegister = "auth_register"
	ClassLogin    = "auth_login"
	ClassChat     = "chat"
	ClassIndex    = "index"
	ClassDefault  = "default"
)

const (
	sweepInterval = time.Minute
	idleAfter     = 10 * time.Minute
)

// classLimit is one parsed "<n>/<unit>" budget.
type classLimit struct {
	limit rate.Limit
	burst int
}

// Registry hands out decisions for (client, class) pairs. Clients are
// opaque identities: an authenticated subject where available, the
// remote address otherwise.
type Registry struct {
	classes map[string]classLimit
	logger  *zap.Logger

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	stop     chan struct{}

	rejected metric.Int64Counter
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRegistry builds a registry from config and starts the idle-entry
// sweeper. Config specs were validated at load time; a spec that fails
// to parse here falls back to the default class budget.
func NewRegistry(cfg config.RateLimitConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		classes: make(map[string]classLimit, 5),
		logger:  logger,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}

	fallback := classLimit{limit: rate.Limit(1), burst: 60}
	for class, spec := range map[string]string{
		ClassRegister: cfg.Register,
		ClassLogin:    cfg.Login,
		ClassChat:     cfg.Chat,
		ClassIndex:    cfg.Index,
		ClassDefault:  cfg.Default,
	} {
		n, window, err := config.ParseRate(spec)
		if err != nil {
			logger.Warn("invalid rate spec, using default budget",
				zap.String("class", class), zap.String("spec", spec), zap.Error(err))
			r.classes[class] = fallback
			continue
		}
		r.classes[class] = classLimit{
			limit: rate.Limit(float64(n) / window.Seconds()),
			burst: n,
		}
	}

	var err error
	r.rejected, err = otel.Meter(instrumentationName).Int64Counter(
		"ragd.ratelimit.rejections",
		metric.WithDescription("Requests rejected by class"),
	)
	if err != nil {
		logger.Warn("failed to create rejection counter", zap.Error(err))
	}

	go r.sweep()
	return r
}

// Allow reports whether the client may proceed under the given class.
// When denied, retryAfter hints how long until the next token.
func (r *Registry) Allow(client, class string) (ok bool, retryAfter time.Duration) {
	cl, found := r.classes[class]
	if !found {
		cl = r.classes[ClassDefault]
	}

	key := client + "\x00" + class

	r.mu.Lock()
	b, exists := r.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		r.buckets[key] = b
	}
	b.lastSeen = time.Now()
	r.mu.Unlock()

	res := b.limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		if r.rejected != nil {
			r.rejected.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("class", class)))
		}
		return false, delay
	}
	return true, 0
}

// Close stops the sweeper. Pending decisions are unaffected.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Len reports how many buckets are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// sweep drops buckets that have not been consulted recently. Dropping a
// bucket resets its budget, which is acceptable: an idle client has long
// since refilled anyway.
func (r *Registry) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idleAfter)
			r.mu.Lock()
			for key, b := range r.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(r.buckets, key)
				}
			}
			r.mu.Unlock()
		}
	}
}
