// Package llm adapts completion providers behind a single Client port.
//
// Two wire formats are implemented: the OpenAI chat-completions API for
// the low-latency primary model and the Anthropic messages API for the
// long-context fallback. Adapters classify failures instead of retrying
// them; the chat orchestrator owns the one primary-to-fallback retry, so
// a transport error, 429, or 5xx comes back as a retriable
// llm_unavailable and every other 4xx as a terminal one.
package llm
