package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantumlife/timeledger/pkg/errs"
)

var (
	ErrOAuthSessionNotFound = errs.NotFound("oauth session not found")
	ErrOAuthTokenNotFound   = errs.NotFound("access token not found")
)

// OAuthSession is one in-flight PKCE authorization. It lives for ten
// minutes; once the user approves, an auth code with a five minute TTL
// is attached.
type OAuthSession struct {
	ID                  uuid.UUID
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	RedirectURI         string
	AuthCode            *string
	AuthCodeExpiresAt   *time.Time
	UserID              *uuid.UUID
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// AccessToken is an issued bearer token, stored hashed.
type AccessToken struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	TokenHash   string
	TokenPrefix string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}

// OAuthStore persists PKCE sessions and issued tokens.
type OAuthStore struct {
	q Querier
}

// NewOAuthStore creates a store bound to the pool.
func NewOAuthStore(pool *pgxpool.Pool) *OAuthStore {
	return &OAuthStore{q: pool}
}

// CreateSession starts an authorization.
func (s *OAuthStore) CreateSession(ctx context.Context, sess *OAuthSession) (*OAuthSession, error) {
	sess.ID = uuid.New()
	sess.CreatedAt = time.Now().UTC()

	_, err := s.q.Exec(ctx, `
		INSERT INTO mcp_oauth_sessions
			(id, state, code_challenge, code_challenge_method, redirect_uri, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sess.ID, sess.State, sess.CodeChallenge, sess.CodeChallengeMethod,
		sess.RedirectURI, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSessionByState loads a session for the approval step.
func (s *OAuthStore) GetSessionByState(ctx context.Context, state string) (*OAuthSession, error) {
	return s.getSession(ctx, "state = $1", state)
}

// GetSessionByAuthCode loads a session for the token exchange.
func (s *OAuthStore) GetSessionByAuthCode(ctx context.Context, code string) (*OAuthSession, error) {
	return s.getSession(ctx, "auth_code = $1", code)
}

func (s *OAuthStore) getSession(ctx context.Context, where string, arg any) (*OAuthSession, error) {
	sess := &OAuthSession{}
	err := s.q.QueryRow(ctx, `
		SELECT id, state, code_challenge, code_challenge_method, redirect_uri,
			auth_code, auth_code_expires_at, user_id, created_at, expires_at
		FROM mcp_oauth_sessions WHERE `+where,
		arg,
	).Scan(&sess.ID, &sess.State, &sess.CodeChallenge, &sess.CodeChallengeMethod,
		&sess.RedirectURI, &sess.AuthCode, &sess.AuthCodeExpiresAt, &sess.UserID,
		&sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOAuthSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// AttachAuthCode records user approval and the short-lived code.
func (s *OAuthStore) AttachAuthCode(ctx context.Context, sessionID, userID uuid.UUID, code string, expiresAt time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE mcp_oauth_sessions
		SET auth_code = $2, auth_code_expires_at = $3, user_id = $4
		WHERE id = $1
	`, sessionID, code, expiresAt, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOAuthSessionNotFound
	}
	return nil
}

// DeleteSession removes a consumed or expired session.
func (s *OAuthStore) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.q.Exec(ctx, "DELETE FROM mcp_oauth_sessions WHERE id = $1", sessionID)
	return err
}

// CreateToken stores a new access token hash.
func (s *OAuthStore) CreateToken(ctx context.Context, userID uuid.UUID, tokenHash, tokenPrefix string, expiresAt time.Time) (*AccessToken, error) {
	t := &AccessToken{
		ID:          uuid.New(),
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO mcp_access_tokens (id, user_id, token_hash, token_prefix, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.UserID, t.TokenHash, t.TokenPrefix, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FindTokenByHash resolves a presented token hash.
func (s *OAuthStore) FindTokenByHash(ctx context.Context, tokenHash string) (*AccessToken, error) {
	t := &AccessToken{}
	err := s.q.QueryRow(ctx, `
		SELECT id, user_id, token_hash, token_prefix, expires_at, created_at, last_used_at
		FROM mcp_access_tokens WHERE token_hash = $1
	`, tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.TokenPrefix,
		&t.ExpiresAt, &t.CreatedAt, &t.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOAuthTokenNotFound
		}
		return nil, err
	}
	return t, nil
}

// TouchToken stamps token usage.
func (s *OAuthStore) TouchToken(ctx context.Context, tokenID uuid.UUID) error {
	_, err := s.q.Exec(ctx,
		"UPDATE mcp_access_tokens SET last_used_at = $2 WHERE id = $1",
		tokenID, time.Now().UTC())
	return err
}

// DeleteExpired prunes expired sessions and tokens.
func (s *OAuthStore) DeleteExpired(ctx context.Context, now time.Time) error {
	if _, err := s.q.Exec(ctx,
		"DELETE FROM mcp_oauth_sessions WHERE expires_at < $1", now); err != nil {
		return err
	}
	_, err := s.q.Exec(ctx,
		"DELETE FROM mcp_access_tokens WHERE expires_at < $1", now)
	return err
}
