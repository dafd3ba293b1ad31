// Package auth covers the three credential modes: password sessions,
// bearer API keys, and a PKCE authorization-code flow for programmatic
// clients. All three resolve to a user id.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/clock"
	"github.com/quantumlife/timeledger/pkg/errs"
)

const (
	sessionTTL        = 7 * 24 * time.Hour
	minPasswordLength = 8
)

// Service authenticates users and issues credentials.
type Service struct {
	log           *zap.Logger
	clock         clock.Clock
	users         *store.UserStore
	keys          *store.APIKeyStore
	oauth         *store.OAuthStore
	sessionSecret []byte
}

// NewService wires the auth service.
func NewService(log *zap.Logger, clk clock.Clock, users *store.UserStore, keys *store.APIKeyStore, oauth *store.OAuthStore, sessionSecret []byte) *Service {
	return &Service{
		log:           log,
		clock:         clk,
		users:         users,
		keys:          keys,
		oauth:         oauth,
		sessionSecret: sessionSecret,
	}
}

// Register creates a user with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, email, name, password string) (*store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errs.Validation("invalid_email", "a valid email is required")
	}
	if len(password) < minPasswordLength {
		return nil, errs.Validation("weak_password", "password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errs.Internal("hashing password", err)
	}
	return s.users.Create(ctx, email, name, string(hash))
}

// Login verifies a password and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (*store.User, string, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		// Same error whether the email or the password is wrong.
		return nil, "", errs.Auth("invalid email or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", errs.Auth("invalid email or password")
	}

	token, err := s.issueSession(u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (s *Service) issueSession(userID uuid.UUID) (string, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.sessionSecret)
	if err != nil {
		return "", errs.Internal("signing session token", err)
	}
	return token, nil
}

// VerifySession validates a session token and returns its user id.
func (s *Service) VerifySession(token string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, errs.Auth("unexpected signing method")
			}
			return s.sessionSecret, nil
		},
		jwt.WithTimeFunc(s.clock.Now))
	if err != nil || !parsed.Valid {
		return uuid.Nil, errs.Auth("invalid session")
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return uuid.Nil, errs.Auth("invalid session")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, errs.Auth("invalid session")
	}
	return userID, nil
}
