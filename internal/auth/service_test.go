package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ragd/internal/chatstore"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/domain"
)

func testService(t *testing.T) *Service {
	t.Helper()
	cfg := config.JWTConfig{
		Secret:        config.Secret("0123456789abcdef0123456789abcdef"),
		ExpireMinutes: 60,
	}
	return New(chatstore.NewMemory(), cfg, zaptest.NewLogger(t))
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")
	assert.NotContains(t, hash, "correct horse")

	ok, err := VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordHashesAreSalted(t *testing.T) {
	first, err := HashPassword("same password")
	require.NoError(t, err)
	second, err := HashPassword("same password")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	_, err := VerifyPassword("anything", "not-an-encoded-hash")
	assert.Error(t, err)
}

func TestRegisterAndLogin(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	user, token, err := s.Register(ctx, "Ada@Example.COM", "hunter22hunter22", "Ada L.")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.NotEmpty(t, token)
	assert.NotContains(t, user.PasswordHash, "hunter22")

	subject, err := s.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject)

	logged, loginToken, err := s.Login(ctx, "ada@example.com", "hunter22hunter22")
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)
	assert.NotEmpty(t, loginToken)
}

func TestRegisterValidation(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	_, _, err := s.Register(ctx, "not-an-email", "longenoughpass", "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, _, err = s.Register(ctx, "a@b.example", "short", "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestDuplicateEmailRejected(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	_, _, err := s.Register(ctx, "ada@example.com", "hunter22hunter22", "")
	require.NoError(t, err)

	_, _, err = s.Register(ctx, "ada@example.com", "hunter22hunter22", "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestLoginWrongPassword(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	_, _, err := s.Register(ctx, "ada@example.com", "hunter22hunter22", "")
	require.NoError(t, err)

	_, _, err = s.Login(ctx, "ada@example.com", "not the password")
	assert.Equal(t, domain.KindUnauthenticated, domain.KindOf(err))

	// Unknown accounts answer identically to bad passwords.
	_, _, err = s.Login(ctx, "nobody@example.com", "whatever password")
	assert.Equal(t, domain.KindUnauthenticated, domain.KindOf(err))
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	s := testService(t)
	token, err := s.IssueToken("user-1")
	require.NoError(t, err)

	_, err = s.VerifyToken(token + "x")
	assert.Equal(t, domain.KindUnauthenticated, domain.KindOf(err))

	other := New(chatstore.NewMemory(), config.JWTConfig{
		Secret:        config.Secret("ffffffffffffffffffffffffffffffff"),
		ExpireMinutes: 60,
	}, zaptest.NewLogger(t))
	_, err = other.VerifyToken(token)
	assert.Equal(t, domain.KindUnauthenticated, domain.KindOf(err))
}

func TestVerifyTokenExpiry(t *testing.T) {
	s := testService(t)

	issued := time.Now()
	s.now = func() time.Time { return issued }
	token, err := s.IssueToken("user-1")
	require.NoError(t, err)

	// Two hours later the one-hour token must be dead.
	s.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = s.VerifyToken(token)
	require.Error(t, err)
	assert.Equal(t, domain.KindUnauthenticated, domain.KindOf(err))

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "expired", de.Meta["reason"])
}

func TestMiddlewareSetsOwner(t *testing.T) {
	s := testService(t)
	token, err := s.IssueToken("user-42")
	require.NoError(t, err)

	e := echo.New()
	handler := s.Middleware()(func(c echo.Context) error {
		assert.Equal(t, "user-42", Owner(c))
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejectsMissingAndMalformed(t *testing.T) {
	s := testService(t)
	e := echo.New()
	handler := s.Middleware()(func(c echo.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	for _, header := range []string{"", "Basic dXNlcjpwYXNz", "Bearer", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(echo.HeaderAuthorization, header)
		}
		rec := httptest.NewRecorder()
		err := handler(e.NewContext(req, rec))
		assert.Equal(t, domain.KindUnauthenticated, domain.KindOf(err), "header %q", header)
	}
}
