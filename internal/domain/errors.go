package domain

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error into the closed taxonomy shared by every
// component. Kinds are stable strings; the HTTP layer maps them to
// status codes and clients may switch on them.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindUnauthenticated      Kind = "unauthenticated"
	KindForbidden            Kind = "forbidden"
	KindNotFound             Kind = "not_found"
	KindMessageBlocked       Kind = "message_blocked"
	KindRateLimited          Kind = "rate_limited"
	KindDimensionMismatch    Kind = "dimension_mismatch"
	KindEmbeddingUnavailable Kind = "embedding_unavailable"
	KindVectorStore          Kind = "vector_store_error"
	KindLLMUnavailable       Kind = "llm_unavailable"
	KindLLMExhausted         Kind = "llm_exhausted"
	KindWebSearchUnavailable Kind = "web_search_unavailable"
	KindGuardianUnavailable  Kind = "guardian_unavailable"
	KindTimeout              Kind = "timeout"
	KindStorage              Kind = "storage_error"
	KindInternal             Kind = "internal"
)

// Error is a classified error. Adapters return *Error for every failure
// they surface; the orchestrator routes on Kind and Retriable instead of
// inspecting provider-specific payloads.
type Error struct {
	Kind      Kind
	Message   string
	Retriable bool
	Meta      map[string]any
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error around an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithMeta attaches a metadata key/value and returns the error for chaining.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// AsRetriable marks the error as safe to retry and returns it for chaining.
func (e *Error) AsRetriable() *Error {
	e.Retriable = true
	return e
}

// KindOf extracts the Kind from an error chain. Deadline and cancellation
// errors classify as KindTimeout; anything unclassified is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetriable reports whether the error chain carries a retriable
// classified error. Unclassified errors are never retriable.
func IsRetriable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Retriable
	}
	return false
}
