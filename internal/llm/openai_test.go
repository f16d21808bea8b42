package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/domain"
)

func testLLMConfig(url string) config.LLMConfig {
	return config.LLMConfig{
		Key:     config.Secret("test-key"),
		URL:     url,
		Model:   "test-model",
		Timeout: config.Duration(5 * time.Second),
		RPS:     1000,
		Burst:   1000,
	}
}

func TestOpenAICompleteSuccess(t *testing.T) {
	var gotReq openAIRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{
			"model": "test-model",
			"choices": [{"message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`))
	}))
	defer srv.Close()

	client := NewOpenAI(testLLMConfig(srv.URL))
	result, err := client.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []Message{{Role: "user", Content: "hi"}},
		MaxTokens:    64,
		Temperature:  0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", result.Text)
	assert.Equal(t, 12, result.TokensIn)
	assert.Equal(t, 3, result.TokensOut)
	assert.Equal(t, "test-model", result.Model)

	assert.Equal(t, "Bearer test-key", gotAuth)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, Message{Role: "system", Content: "be brief"}, gotReq.Messages[0])
	assert.Equal(t, Message{Role: "user", Content: "hi"}, gotReq.Messages[1])
	assert.Equal(t, 64, gotReq.MaxTokens)
}

func TestOpenAIUsageFallsBackToEstimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "12345678"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAI(testLLMConfig(srv.URL))
	result, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "abcdefgh"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TokensIn, "8 chars estimate to 2 tokens")
	assert.Equal(t, 2, result.TokensOut)
}

func TestOpenAIStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retriable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "nope"}}`))
			}))
			defer srv.Close()

			client := NewOpenAI(testLLMConfig(srv.URL))
			_, err := client.Complete(context.Background(), CompletionRequest{
				Messages: []Message{{Role: "user", Content: "hi"}},
			})
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.KindLLMUnavailable))
			assert.Equal(t, tt.retriable, domain.IsRetriable(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestOpenAITransportErrorIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	client := NewOpenAI(testLLMConfig(srv.URL))
	_, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindLLMUnavailable))
	assert.True(t, domain.IsRetriable(err))
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	client := NewOpenAI(testLLMConfig(srv.URL))
	_, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindLLMUnavailable))
	assert.False(t, domain.IsRetriable(err))
}
