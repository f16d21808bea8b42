package guardian

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/domain"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/guardian"

// Service evaluates user messages. Construct with New; the zero value
// denies nothing and calls nothing.
type Service struct {
	enabled bool
	rules   []Rule
	url     string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	cache   *expirable.LRU[string, domain.GuardianVerdict]
	logger  *zap.Logger
	evals   metric.Int64Counter
}

type classifyRequest struct {
	Message string   `json:"message"`
	Context []string `json:"context,omitempty"`
}

type classifyResponse struct {
	Allowed    bool     `json:"allowed"`
	Reason     string   `json:"reason"`
	Level      string   `json:"level"`
	Categories []string `json:"categories"`
}

// New builds the guardian from config. With Enabled=false every message
// passes; with no URL only the phrase tier runs.
func New(cfg config.GuardianConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ttl := cfg.CacheTTL.Duration()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	perMinute := cfg.CallsPerMinute
	if perMinute <= 0 {
		perMinute = 10
	}

	s := &Service{
		enabled: cfg.Enabled,
		rules:   DefaultRules(),
		url:     strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.Key.Value(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		cache:   expirable.NewLRU[string, domain.GuardianVerdict](size, nil, ttl),
		logger:  logger,
	}

	var err error
	s.evals, err = otel.Meter(instrumentationName).Int64Counter(
		"ragd.guardian.evaluations",
		metric.WithDescription("Guardian evaluations by outcome"),
	)
	if err != nil {
		logger.Warn("failed to create guardian counter", zap.Error(err))
	}
	return s
}

// Evaluate never returns an error; an unavailable classifier produces an
// allowed verdict tagged guardian_unavailable. The phrase tier blocks
// without consulting the remote at all.
func (s *Service) Evaluate(ctx context.Context, message string, contextSnippets ...string) domain.GuardianVerdict {
	if !s.enabled {
		s.count(ctx, "disabled")
		return domain.GuardianVerdict{Allowed: true, Level: domain.ThreatNone}
	}

	if verdict, hit := s.matchRules(message, contextSnippets); hit {
		s.count(ctx, "blocked_heuristic")
		return verdict
	}

	if s.url == "" {
		s.count(ctx, "allowed")
		return domain.GuardianVerdict{Allowed: true, Level: domain.ThreatNone}
	}

	// Cache key is the exact message: identical retries within the TTL
	// reuse the classifier's answer.
	if verdict, ok := s.cache.Get(message); ok {
		s.count(ctx, "cache_hit")
		return verdict
	}

	if !s.limiter.Allow() {
		s.count(ctx, "throttled")
		s.logger.Debug("guardian classifier throttled")
		return domain.GuardianVerdict{Allowed: true, Level: domain.ThreatNone, Categories: []string{"guardian_throttled"}}
	}

	verdict, err := s.classify(ctx, message, contextSnippets)
	if err != nil {
		s.count(ctx, "fail_open")
		s.logger.Warn("guardian classifier unavailable, failing open", zap.Error(err))
		return domain.GuardianVerdict{Allowed: true, Level: domain.ThreatNone, Categories: []string{"guardian_unavailable"}}
	}

	s.cache.Add(message, verdict)
	if verdict.Allowed {
		s.count(ctx, "allowed")
	} else {
		s.count(ctx, "blocked_remote")
	}
	return verdict
}

// matchRules scans the message and any context snippets against the
// phrase list. Documents can smuggle injections just as well as users.
func (s *Service) matchRules(message string, snippets []string) (domain.GuardianVerdict, bool) {
	haystacks := make([]string, 0, len(snippets)+1)
	haystacks = append(haystacks, strings.ToLower(message))
	for _, snip := range snippets {
		haystacks = append(haystacks, strings.ToLower(snip))
	}

	for _, rule := range s.rules {
		for _, hay := range haystacks {
			if strings.Contains(hay, rule.Phrase) {
				return domain.GuardianVerdict{
					Allowed:    false,
					Reason:     "heuristic_block:" + rule.Phrase,
					Level:      domain.ThreatHigh,
					Categories: []string{rule.Category},
				}, true
			}
		}
	}
	return domain.GuardianVerdict{}, false
}

func (s *Service) classify(ctx context.Context, message string, snippets []string) (domain.GuardianVerdict, error) {
	body, err := json.Marshal(classifyRequest{Message: message, Context: snippets})
	if err != nil {
		return domain.GuardianVerdict{}, domain.Wrap(domain.KindInternal, "marshal classify request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/classify", bytes.NewReader(body))
	if err != nil {
		return domain.GuardianVerdict{}, domain.Wrap(domain.KindInternal, "build classify request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.GuardianVerdict{}, domain.Wrap(domain.KindGuardianUnavailable, "classify request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.GuardianVerdict{}, domain.Newf(domain.KindGuardianUnavailable, "classifier returned %d", resp.StatusCode)
	}

	var parsed classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.GuardianVerdict{}, domain.Wrap(domain.KindGuardianUnavailable, "decode classify response", err)
	}

	return domain.GuardianVerdict{
		Allowed:    parsed.Allowed,
		Reason:     parsed.Reason,
		Level:      parseLevel(parsed.Level),
		Categories: parsed.Categories,
	}, nil
}

func parseLevel(level string) domain.ThreatLevel {
	switch strings.ToLower(level) {
	case "low":
		return domain.ThreatLow
	case "medium":
		return domain.ThreatMedium
	case "high":
		return domain.ThreatHigh
	default:
		return domain.ThreatNone
	}
}

func (s *Service) count(ctx context.Context, outcome string) {
	if s.evals != nil {
		s.evals.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
