package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// errorEnvelope is the JSON error shape for every failed request:
// {"error":{"kind":"...","message":"...","meta":{...}}}.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

const retryAfterMetaKey = "retry_after_seconds"

// handleError is the echo error handler: classified errors map to their
// contractual status codes, everything else is an opaque 500.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		// Router-level failures (no route, method not allowed, body too
		// large) arrive as echo errors.
		body := errorBody{Kind: kindForStatus(he.Code), Message: fmt.Sprintf("%v", he.Message)}
		s.writeError(c, he.Code, body)
		return
	}

	kind := domain.KindOf(err)
	status := statusForKind(kind)
	body := errorBody{Kind: string(kind), Message: "internal error"}

	var de *domain.Error
	if errors.As(err, &de) {
		// 500s keep the opaque message; the detail is for the log line.
		if status != http.StatusInternalServerError {
			body.Message = de.Message
			body.Meta = de.Meta
		}
		if kind == domain.KindRateLimited {
			if seconds, ok := de.Meta[retryAfterMetaKey].(int); ok && seconds > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
			}
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	s.writeError(c, status, body)
}

func (s *Server) writeError(c echo.Context, status int, body errorBody) {
	var err error
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorEnvelope{Error: body})
	}
	if err != nil {
		s.logger.Warn("error response write failed", zap.Error(err))
	}
}

// statusForKind is the contractual kind-to-status table. Upstream
// dependencies that are down map to 503 so clients can tell "retry
// later" apart from "your fault".
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation, domain.KindMessageBlocked, domain.KindDimensionMismatch:
		return http.StatusUnprocessableEntity
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindEmbeddingUnavailable, domain.KindVectorStore, domain.KindLLMUnavailable,
		domain.KindLLMExhausted, domain.KindWebSearchUnavailable, domain.KindGuardianUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// kindForStatus classifies router-level statuses into the same taxonomy
// so clients see one error shape everywhere.
func kindForStatus(status int) string {
	switch {
	case status == http.StatusNotFound:
		return string(domain.KindNotFound)
	case status == http.StatusUnauthorized:
		return string(domain.KindUnauthenticated)
	case status == http.StatusTooManyRequests:
		return string(domain.KindRateLimited)
	case status >= 400 && status < 500:
		return string(domain.KindValidation)
	default:
		return string(domain.KindInternal)
	}
}

// rateLimitedError builds the 429 payload with its retry-after hint.
func rateLimitedError(class string, retryAfter time.Duration) error {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return domain.Newf(domain.KindRateLimited, "rate limit exceeded for %s", class).
		WithMeta(retryAfterMetaKey, seconds).
		WithMeta("class", class)
}
