package llm

import (
	"context"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// Message is one turn of conversation sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries everything a provider needs for one
// completion. SystemPrompt travels separately because the two wire
// formats place it differently.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64
}

// CompletionResult is a provider-neutral completion. TokensIn and
// TokensOut come from the provider's usage block when present, otherwise
// from a 4-characters-per-token estimate.
type CompletionResult struct {
	Text      string
	TokensIn  int
	TokensOut int
	Model     string
}

// Client is the completion port. Complete returns *domain.Error with kind
// llm_unavailable on failure; Retriable marks whether a different adapter
// may succeed where this one failed.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
	Model() string
	Close() error
}

// EstimateTokens approximates token count as one token per four
// characters. Used when a provider omits usage and by the routing budget.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// requestChars sums the characters an adapter sends, for usage estimates
// on providers that return none.
func requestChars(req CompletionRequest) int {
	n := len(req.SystemPrompt)
	for _, m := range req.Messages {
		n += len(m.Content)
	}
	return n
}

// classifyStatus maps an HTTP status to the adapter error contract:
// 429 and 5xx are retriable, everything else in the 4xx range is not.
func classifyStatus(status int, detail string) *domain.Error {
	err := domain.Newf(domain.KindLLMUnavailable, "completion API returned %d: %s", status, detail).
		WithMeta("status", status)
	if status == 429 || status >= 500 {
		return err.AsRetriable()
	}
	return err
}
