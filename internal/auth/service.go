// Package auth owns account registration, credential verification, and
// bearer-token issuance for the HTTP surface.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chatstore"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/domain"
)

const minPasswordLen = 8

// Service issues and verifies tokens and manages user credentials.
type Service struct {
	store  chatstore.Store
	secret []byte
	expiry time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// New builds the auth service. The JWT secret was validated at config
// load; expiry falls back to one hour.
func New(store chatstore.Store, cfg config.JWTConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	expiry := time.Duration(cfg.ExpireMinutes) * time.Minute
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Service{
		store:  store,
		secret: []byte(cfg.Secret.Value()),
		expiry: expiry,
		logger: logger,
		now:    time.Now,
	}
}

// Register creates an account and returns it with a fresh token.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateEmail(email); err != nil {
		return nil, "", err
	}
	if len(password) < minPasswordLen {
		return nil, "", domain.Newf(domain.KindValidation,
			"password must be at least %d characters", minPasswordLen)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	user, err := s.store.CreateUser(ctx, email, hash, strings.TrimSpace(fullName))
	if err != nil {
		return nil, "", err
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, token, nil
}

// Login verifies credentials and returns the account with a fresh token.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, "", domain.New(domain.KindUnauthenticated, "invalid credentials")
		}
		return nil, "", err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", domain.New(domain.KindUnauthenticated, "invalid credentials")
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// IssueToken signs a bearer token for the subject.
func (s *Service) IssueToken(subject string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", domain.Wrap(domain.KindInternal, "sign token", err)
	}
	return signed, nil
}

// VerifyToken validates a bearer token and returns its subject. Expiry
// and signature failures both surface as unauthenticated; the message
// distinguishes them for clients.
func (s *Service) VerifyToken(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.Newf(domain.KindUnauthenticated, "unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", domain.Wrap(domain.KindUnauthenticated, "token expired", err).
				WithMeta("reason", "expired")
		}
		return "", domain.Wrap(domain.KindUnauthenticated, "invalid token", err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", domain.New(domain.KindUnauthenticated, "token has no subject")
	}
	return subject, nil
}

// validateEmail applies the minimal structural check. Real mailbox
// verification is the registration flow's job, not a parser's.
func validateEmail(email string) error {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return domain.New(domain.KindValidation, "invalid email address")
	}
	host := email[at+1:]
	if !strings.Contains(host, ".") || strings.ContainsAny(email, " \t\n") {
		return domain.New(domain.KindValidation, "invalid email address")
	}
	return nil
}
