package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// ownerKey is the echo context key the middleware stores the
// authenticated subject under.
const ownerKey = "ragd.owner"

// Middleware returns an echo middleware that requires a valid bearer
// token and records its subject in the request context. Failures return
// classified errors for the server's error handler to map.
func (s *Service) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return domain.New(domain.KindUnauthenticated, "missing authorization header")
			}

			scheme, token, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
				return domain.New(domain.KindUnauthenticated, "authorization header is not a bearer token")
			}

			subject, err := s.VerifyToken(strings.TrimSpace(token))
			if err != nil {
				return err
			}

			c.Set(ownerKey, subject)
			return next(c)
		}
	}
}

// Owner returns the authenticated subject set by Middleware, or empty
// when the route ran unauthenticated.
func Owner(c echo.Context) string {
	if owner, ok := c.Get(ownerKey).(string); ok {
		return owner
	}
	return ""
}
