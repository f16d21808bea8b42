package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Register: "5/hour",
		Login:    "10/min",
		Chat:     "2/min",
		Index:    "5/min",
		Default:  "60/min",
	}
}

func TestAllowWithinBudget(t *testing.T) {
	r := NewRegistry(testConfig(), zaptest.NewLogger(t))
	defer r.Close()

	ok, retryAfter := r.Allow("10.0.0.1", ClassChat)
	assert.True(t, ok)
	assert.Zero(t, retryAfter)
}

func TestDenyBeyondBurst(t *testing.T) {
	r := NewRegistry(testConfig(), zaptest.NewLogger(t))
	defer r.Close()

	// Chat allows a burst of 2; the third immediate request must wait.
	ok, _ := r.Allow("10.0.0.1", ClassChat)
	require.True(t, ok)
	ok, _ = r.Allow("10.0.0.1", ClassChat)
	require.True(t, ok)

	ok, retryAfter := r.Allow("10.0.0.1", ClassChat)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestClientsAreIndependent(t *testing.T) {
	r := NewRegistry(testConfig(), zaptest.NewLogger(t))
	defer r.Close()

	for i := 0; i < 2; i++ {
		ok, _ := r.Allow("10.0.0.1", ClassChat)
		require.True(t, ok)
	}
	ok, _ := r.Allow("10.0.0.1", ClassChat)
	require.False(t, ok, "first client exhausted")

	ok, _ = r.Allow("10.0.0.2", ClassChat)
	assert.True(t, ok, "second client has its own bucket")
}

func TestClassesAreIndependent(t *testing.T) {
	r := NewRegistry(testConfig(), zaptest.NewLogger(t))
	defer r.Close()

	for i := 0; i < 2; i++ {
		ok, _ := r.Allow("10.0.0.1", ClassChat)
		require.True(t, ok)
	}
	ok, _ := r.Allow("10.0.0.1", ClassChat)
	require.False(t, ok)

	// The same client may still hit other endpoint classes.
	ok, _ = r.Allow("10.0.0.1", ClassIndex)
	assert.True(t, ok)
	ok, _ = r.Allow("10.0.0.1", ClassDefault)
	assert.True(t, ok)
}

func TestUnknownClassUsesDefault(t *testing.T) {
	r := NewRegistry(testConfig(), zaptest.NewLogger(t))
	defer r.Close()

	ok, _ := r.Allow("10.0.0.1", "no_such_class")
	assert.True(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestInvalidSpecFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Chat = "not-a-rate"
	r := NewRegistry(cfg, zaptest.NewLogger(t))
	defer r.Close()

	// The fallback budget is generous; the request must still pass.
	ok, _ := r.Allow("10.0.0.1", ClassChat)
	assert.True(t, ok)
}

func TestRetryAfterHintShrinks(t *testing.T) {
	r := NewRegistry(testConfig(), zaptest.NewLogger(t))
	defer r.Close()

	for i := 0; i < 2; i++ {
		ok, _ := r.Allow("c", ClassChat)
		require.True(t, ok)
	}

	_, first := r.Allow("c", ClassChat)
	require.Greater(t, first, time.Duration(0))

	time.Sleep(20 * time.Millisecond)
	_, second := r.Allow("c", ClassChat)
	assert.Less(t, second, first)
}
