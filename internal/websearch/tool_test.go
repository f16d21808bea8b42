package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

const searxBody = `{"results": [
	{"title": "Go spec", "url": "https://go.dev/ref/spec", "content": "The spec", "score": 9.1, "engine": "ddg"},
	{"title": "Gist", "url": "https://gist.github.com/x/1", "content": "snippet", "score": 5.0, "engine": "ddg"},
	{"title": "Spam", "url": "https://evilgithub.com/payload", "content": "bad", "score": 4.0, "engine": "ddg"},
	{"title": "Blog", "url": "https://blog.example.net/post", "content": "off-list", "score": 3.0, "engine": "bing"}
]}`

func newTestTool(t *testing.T, handler http.HandlerFunc, mutate func(*config.WebSearchConfig)) *Tool {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.WebSearchConfig{
		SearchEnabled:  true,
		SearchURL:      srv.URL,
		AllowedDomains: "go.dev,github.com",
		CacheTTL:       config.Duration(time.Minute),
		CacheSize:      8,
		Timeout:        config.Duration(2 * time.Second),
		RPS:            1000,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, zaptest.NewLogger(t))
}

func TestSearchFiltersByHostSuffix(t *testing.T) {
	tool := newTestTool(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "go generics", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(searxBody))
	}, nil)

	results := tool.Search(context.Background(), "go generics", 5)
	require.Len(t, results, 2)
	assert.Equal(t, "https://go.dev/ref/spec", results[0].URL)
	assert.Equal(t, "The spec", results[0].Snippet)
	assert.Equal(t, "ddg", results[0].Source)
	assert.Equal(t, "https://gist.github.com/x/1", results[1].URL, "subdomain of an allowed host passes")
}

func TestSearchCachesNormalizedQuery(t *testing.T) {
	var calls atomic.Int64
	tool := newTestTool(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(searxBody))
	}, nil)

	ctx := context.Background()
	first := tool.Search(ctx, "Go   Generics", 3)
	second := tool.Search(ctx, "  go generics ", 3)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, first, second)
}

func TestSearchThrottledReturnsEmpty(t *testing.T) {
	var calls atomic.Int64
	tool := newTestTool(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(searxBody))
	}, func(cfg *config.WebSearchConfig) {
		cfg.RPS = 0.0001
	})

	ctx := context.Background()
	assert.NotEmpty(t, tool.Search(ctx, "query one", 3))
	assert.NotEmpty(t, tool.Search(ctx, "query two", 3))
	assert.Empty(t, tool.Search(ctx, "query three", 3), "burst exhausted")
	assert.Equal(t, int64(2), calls.Load())
}

func TestSearchUpstreamFailureIsEmptyAndUncached(t *testing.T) {
	var calls atomic.Int64
	tool := newTestTool(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}, nil)

	ctx := context.Background()
	assert.Empty(t, tool.Search(ctx, "flaky query", 3))
	assert.Empty(t, tool.Search(ctx, "flaky query", 3))
	assert.Equal(t, int64(2), calls.Load(), "failures must not populate the cache")
}

func TestSearchDisabled(t *testing.T) {
	tool := newTestTool(t, func(http.ResponseWriter, *http.Request) {
		t.Error("disabled tool must not call upstream")
	}, func(cfg *config.WebSearchConfig) {
		cfg.SearchEnabled = false
	})

	assert.False(t, tool.Enabled())
	assert.Nil(t, tool.Search(context.Background(), "anything at all", 3))
}

func TestSearchClipsToMaxResults(t *testing.T) {
	tool := newTestTool(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(searxBody))
	}, nil)

	results := tool.Search(context.Background(), "go generics", 1)
	assert.Len(t, results, 1)

	results = tool.Search(context.Background(), "go generics", 0)
	assert.LessOrEqual(t, len(results), DefaultMaxResults)
}

func TestHostAllowed(t *testing.T) {
	allowed := []string{"github.com", "go.dev"}
	assert.True(t, hostAllowed("github.com", allowed))
	assert.True(t, hostAllowed("gist.github.com", allowed))
	assert.True(t, hostAllowed("GO.DEV", allowed))
	assert.False(t, hostAllowed("evilgithub.com", allowed))
	assert.False(t, hostAllowed("github.com.evil.net", allowed))
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "go generics", normalizeQuery("  Go \t Generics \n"))
}
