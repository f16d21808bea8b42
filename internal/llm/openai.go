package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// OpenAI speaks the chat-completions wire format. BaseURL includes the
// /v1 prefix ("https://api.openai.com/v1"), matching the convention of
// OpenAI-compatible servers.
type OpenAI struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAI creates the chat-completions adapter. An empty key is
// accepted for self-hosted servers; the Authorization header is only
// sent when a key is configured.
func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 4
	}
	return &OpenAI{
		model:      cfg.Model,
		apiKey:     cfg.Key.Value(),
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete sends one chat completion. Messages already carry the system
// prompt as a leading system-role message on this wire.
func (o *OpenAI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, domain.Wrap(domain.KindLLMUnavailable, "rate limiter wait", err)
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)

	body, err := json.Marshal(openAIRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "marshal completion request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "build completion request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.Wrap(domain.KindLLMUnavailable, "completion request failed", err).AsRetriable()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Wrap(domain.KindLLMUnavailable, "read completion response", err).AsRetriable()
	}

	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(respBody))
		var apiErr openAIError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			detail = apiErr.Error.Message
		}
		return nil, classifyStatus(resp.StatusCode, detail)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, domain.Wrap(domain.KindLLMUnavailable, "parse completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, domain.New(domain.KindLLMUnavailable, "completion response had no choices")
	}

	text := parsed.Choices[0].Message.Content
	result := &CompletionResult{
		Text:      text,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
		Model:     o.model,
	}
	if result.TokensIn == 0 {
		result.TokensIn = (requestChars(req) + 3) / 4
	}
	if result.TokensOut == 0 {
		result.TokensOut = EstimateTokens(text)
	}
	return result, nil
}

// Model reports the configured model name.
func (o *OpenAI) Model() string { return o.model }

// Close is a no-op.
func (o *OpenAI) Close() error { return nil }

var _ Client = (*OpenAI)(nil)
