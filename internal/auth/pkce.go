package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/errs"
)

// PKCE flow TTLs.
const (
	oauthSessionTTL  = 10 * time.Minute
	authCodeTTL      = 5 * time.Minute
	accessTokenTTL   = 24 * time.Hour
	tokenPrefixBytes = 24
)

// StartAuthorization opens a PKCE session. Only the S256 challenge
// method is accepted.
func (s *Service) StartAuthorization(ctx context.Context, state, codeChallenge, method, redirectURI string) (*store.OAuthSession, error) {
	if state == "" || codeChallenge == "" || redirectURI == "" {
		return nil, errs.Validation("invalid_authorization", "state, code_challenge, and redirect_uri are required")
	}
	if method != "S256" {
		return nil, errs.Validation("invalid_challenge_method", "only S256 is supported")
	}

	return s.oauth.CreateSession(ctx, &store.OAuthSession{
		State:               state,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: method,
		RedirectURI:         redirectURI,
		ExpiresAt:           s.clock.Now().Add(oauthSessionTTL),
	})
}

// Approve records the logged-in user's consent and mints the short
// lived authorization code.
func (s *Service) Approve(ctx context.Context, state string, userID uuid.UUID) (code string, redirectURI string, err error) {
	sess, err := s.oauth.GetSessionByState(ctx, state)
	if err != nil {
		return "", "", err
	}
	if s.clock.Now().After(sess.ExpiresAt) {
		return "", "", errs.Auth("authorization session expired")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", errs.Internal("generating auth code", err)
	}
	code = hex.EncodeToString(raw)

	if err := s.oauth.AttachAuthCode(ctx, sess.ID, userID, code, s.clock.Now().Add(authCodeTTL)); err != nil {
		return "", "", err
	}
	return code, sess.RedirectURI, nil
}

// Exchange trades an authorization code plus its PKCE verifier for a
// bearer access token. The session is consumed either way.
func (s *Service) Exchange(ctx context.Context, code, verifier string) (token string, expiresAt time.Time, err error) {
	sess, err := s.oauth.GetSessionByAuthCode(ctx, code)
	if err != nil {
		return "", time.Time{}, errs.Auth("invalid authorization code")
	}
	defer func() {
		_ = s.oauth.DeleteSession(ctx, sess.ID)
	}()

	now := s.clock.Now()
	if sess.AuthCodeExpiresAt == nil || now.After(*sess.AuthCodeExpiresAt) {
		return "", time.Time{}, errs.Auth("authorization code expired")
	}
	if sess.UserID == nil {
		return "", time.Time{}, errs.Auth("authorization not approved")
	}
	if !verifierMatches(verifier, sess.CodeChallenge) {
		return "", time.Time{}, errs.Auth("code verifier mismatch")
	}

	raw := make([]byte, tokenPrefixBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, errs.Internal("generating access token", err)
	}
	token = "tk_" + hex.EncodeToString(raw)
	expiresAt = now.Add(accessTokenTTL)

	if _, err := s.oauth.CreateToken(ctx, *sess.UserID, hashSecret(token), token[:displayPrefix], expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ResolveAccessToken maps a presented bearer token to its owner.
func (s *Service) ResolveAccessToken(ctx context.Context, token string) (uuid.UUID, error) {
	record, err := s.oauth.FindTokenByHash(ctx, hashSecret(token))
	if err != nil {
		return uuid.Nil, errs.Auth("invalid access token")
	}
	if s.clock.Now().After(record.ExpiresAt) {
		return uuid.Nil, errs.Auth("access token expired")
	}
	_ = s.oauth.TouchToken(ctx, record.ID)
	return record.UserID, nil
}

// PruneExpired drops expired PKCE sessions and tokens.
func (s *Service) PruneExpired(ctx context.Context) error {
	return s.oauth.DeleteExpired(ctx, s.clock.Now())
}

// verifierMatches checks S256: base64url(sha256(verifier)) == challenge.
func verifierMatches(verifier, challenge string) bool {
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
