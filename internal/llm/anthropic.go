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

const anthropicVersion = "2023-06-01"

// Anthropic speaks the messages wire format. BaseURL is the bare origin
// ("https://api.anthropic.com"); the /v1/messages path is appended here.
type Anthropic struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropic creates the messages-wire adapter.
func NewAnthropic(cfg config.LLMConfig) *Anthropic {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 55 * time.Second
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 2
	}
	return &Anthropic{
		model:      cfg.Model,
		apiKey:     cfg.Key.Value(),
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete sends one message-wire completion. The messages API rejects
// system-role entries in the messages array, so the system prompt rides
// the dedicated field and max_tokens is mandatory.
func (a *Anthropic) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, domain.Wrap(domain.KindLLMUnavailable, "rate limiter wait", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		messages = append(messages, m)
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       a.model,
		MaxTokens:   maxTokens,
		Messages:    messages,
		System:      req.SystemPrompt,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "marshal completion request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "build completion request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
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
		var apiErr anthropicError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			detail = apiErr.Error.Message
		}
		return nil, classifyStatus(resp.StatusCode, detail)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, domain.Wrap(domain.KindLLMUnavailable, "parse completion response", err)
	}
	if len(parsed.Content) == 0 {
		return nil, domain.New(domain.KindLLMUnavailable, "completion response had no content")
	}

	text := parsed.Content[0].Text
	result := &CompletionResult{
		Text:      text,
		TokensIn:  parsed.Usage.InputTokens,
		TokensOut: parsed.Usage.OutputTokens,
		Model:     a.model,
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
func (a *Anthropic) Model() string { return a.model }

// Close is a no-op.
func (a *Anthropic) Close() error { return nil }

var _ Client = (*Anthropic)(nil)
