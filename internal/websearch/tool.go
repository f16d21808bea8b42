package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
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

const (
	instrumentationName = "github.com/fyrsmithlabs/ragd/internal/websearch"

	// DefaultMaxResults caps how many snippets a chat turn attaches.
	DefaultMaxResults = 3

	// cachedResults is how many filtered hits one cache entry retains,
	// independent of the caller's maxResults.
	cachedResults = 10
)

// Tool queries a SearxNG-compatible JSON endpoint and filters hits
// against a host allow-list.
type Tool struct {
	enabled   bool
	searchURL string
	apiKey    string
	allowed   []string
	client    *http.Client
	limiter   *rate.Limiter
	cache     *expirable.LRU[string, []domain.WebResult]
	logger    *zap.Logger
	lookups   metric.Int64Counter
}

type searxResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
		Engine  string  `json:"engine"`
	} `json:"results"`
}

// New builds the tool from config. A nil return never happens; a
// misconfigured tool is a disabled one.
func New(cfg config.WebSearchConfig, logger *zap.Logger) *Tool {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	ttl := cfg.CacheTTL.Duration()
	if ttl <= 0 {
		ttl = time.Hour
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}

	t := &Tool{
		enabled:   cfg.SearchEnabled && cfg.SearchURL != "",
		searchURL: strings.TrimRight(cfg.SearchURL, "/"),
		apiKey:    cfg.SearchKey.Value(),
		allowed:   cfg.Domains(),
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), 2),
		cache:     expirable.NewLRU[string, []domain.WebResult](size, nil, ttl),
		logger:    logger,
	}

	var err error
	t.lookups, err = otel.Meter(instrumentationName).Int64Counter(
		"ragd.websearch.lookups",
		metric.WithDescription("Web search lookups by outcome"),
	)
	if err != nil {
		logger.Warn("failed to create websearch counter", zap.Error(err))
	}
	return t
}

// Enabled reports whether the tool will ever return results.
func (t *Tool) Enabled() bool { return t.enabled }

// Search returns up to maxResults allow-listed hits for the query. It
// never returns an error: disabled, throttled, and failed lookups all
// yield an empty slice, logged and counted but invisible to the turn.
func (t *Tool) Search(ctx context.Context, query string, maxResults int) []domain.WebResult {
	if !t.enabled || strings.TrimSpace(query) == "" {
		return nil
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	key := normalizeQuery(query)
	if hits, ok := t.cache.Get(key); ok {
		t.count(ctx, "cache_hit")
		return clip(hits, maxResults)
	}

	if !t.limiter.Allow() {
		t.count(ctx, "throttled")
		t.logger.Debug("web search throttled", zap.String("query", key))
		return nil
	}

	results, err := t.fetch(ctx, query)
	if err != nil {
		t.count(ctx, "error")
		t.logger.Warn("web search failed", zap.String("query", key), zap.Error(err))
		return nil
	}

	filtered := t.filterAllowed(results)
	t.cache.Add(key, clip(filtered, cachedResults))
	t.count(ctx, "fetched")
	return clip(filtered, maxResults)
}

func (t *Tool) fetch(ctx context.Context, query string) ([]domain.WebResult, error) {
	u, err := url.Parse(t.searchURL + "/search")
	if err != nil {
		return nil, domain.Wrap(domain.KindWebSearchUnavailable, "parse search url", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, domain.Wrap(domain.KindWebSearchUnavailable, "build search request", err)
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindWebSearchUnavailable, "search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.Newf(domain.KindWebSearchUnavailable, "search endpoint returned %d", resp.StatusCode)
	}

	var parsed searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, domain.Wrap(domain.KindWebSearchUnavailable, "decode search response", err)
	}

	results := make([]domain.WebResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, domain.WebResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Score:   r.Score,
			Source:  r.Engine,
		})
	}
	return results, nil
}

// filterAllowed drops hits whose host is not covered by the allow-list.
// Matching is by dot-boundary suffix: "github.com" admits
// "gist.github.com" but not "evilgithub.com".
func (t *Tool) filterAllowed(results []domain.WebResult) []domain.WebResult {
	if len(t.allowed) == 0 {
		return nil
	}
	out := make([]domain.WebResult, 0, len(results))
	for _, r := range results {
		u, err := url.Parse(r.URL)
		if err != nil || u.Hostname() == "" {
			continue
		}
		if hostAllowed(u.Hostname(), t.allowed) {
			out = append(out, r)
		}
	}
	return out
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, domainSuffix := range allowed {
		d := strings.ToLower(strings.TrimSpace(domainSuffix))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// normalizeQuery lowers the query and collapses runs of whitespace so
// trivially different phrasings share a cache entry.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func clip(results []domain.WebResult, n int) []domain.WebResult {
	if len(results) <= n {
		return results
	}
	return results[:n:n]
}

func (t *Tool) count(ctx context.Context, outcome string) {
	if t.lookups != nil {
		t.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
