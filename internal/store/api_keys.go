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
	ErrAPIKeyNotFound   = errs.NotFound("api key not found")
	ErrDuplicateKeyName = errs.Validation("duplicate_api_key_name", "an api key with this name already exists")
)

// APIKey is a programmatic credential. Only the SHA-256 hash is stored;
// the prefix is kept for display so users can tell keys apart.
type APIKey struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Name       string
	KeyHash    string
	KeyPrefix  string
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// APIKeyStore provides api key persistence.
type APIKeyStore struct {
	q Querier
}

// NewAPIKeyStore creates a store bound to the pool.
func NewAPIKeyStore(pool *pgxpool.Pool) *APIKeyStore {
	return &APIKeyStore{q: pool}
}

// Create stores a new key hash.
func (s *APIKeyStore) Create(ctx context.Context, userID uuid.UUID, name, keyHash, keyPrefix string) (*APIKey, error) {
	k := &APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, k.ID, k.UserID, k.Name, k.KeyHash, k.KeyPrefix, k.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKeyName
		}
		return nil, err
	}
	return k, nil
}

// FindByHash resolves a presented key hash to its record.
func (s *APIKeyStore) FindByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	k := &APIKey{}
	err := s.q.QueryRow(ctx, `
		SELECT id, user_id, name, key_hash, key_prefix, last_used_at, created_at
		FROM api_keys WHERE key_hash = $1
	`, keyHash).Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.LastUsedAt, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, err
	}
	return k, nil
}

// TouchLastUsed stamps key usage; best effort, errors are the caller's
// to ignore.
func (s *APIKeyStore) TouchLastUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := s.q.Exec(ctx,
		"UPDATE api_keys SET last_used_at = $2 WHERE id = $1",
		keyID, time.Now().UTC())
	return err
}

// List returns the user's keys, newest first. Hashes stay internal.
func (s *APIKeyStore) List(ctx context.Context, userID uuid.UUID) ([]*APIKey, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, user_id, name, key_hash, key_prefix, last_used_at, created_at
		FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		k := &APIKey{}
		err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.CreatedAt)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete revokes a key.
func (s *APIKeyStore) Delete(ctx context.Context, userID, keyID uuid.UUID) error {
	tag, err := s.q.Exec(ctx,
		"DELETE FROM api_keys WHERE id = $1 AND user_id = $2",
		keyID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}
