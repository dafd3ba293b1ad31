package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/errs"
)

const (
	apiKeyPrefix    = "ts_"
	apiKeyRandBytes = 24
	displayPrefix   = 12
)

// CreateAPIKey mints a key and stores only its SHA-256 hash. The full
// key is returned once and cannot be recovered later.
func (s *Service) CreateAPIKey(ctx context.Context, userID uuid.UUID, name string) (*store.APIKey, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", errs.Validation("invalid_key_name", "api key name is required")
	}

	raw := make([]byte, apiKeyRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", errs.Internal("generating api key", err)
	}
	key := apiKeyPrefix + hex.EncodeToString(raw)

	record, err := s.keys.Create(ctx, userID, name, hashSecret(key), key[:displayPrefix])
	if err != nil {
		return nil, "", err
	}
	return record, key, nil
}

// ResolveAPIKey maps a presented key to its owner and stamps usage.
func (s *Service) ResolveAPIKey(ctx context.Context, key string) (uuid.UUID, error) {
	if !strings.HasPrefix(key, apiKeyPrefix) {
		return uuid.Nil, errs.Auth("invalid api key")
	}
	record, err := s.keys.FindByHash(ctx, hashSecret(key))
	if err != nil {
		return uuid.Nil, errs.Auth("invalid api key")
	}
	if err := s.keys.TouchLastUsed(ctx, record.ID); err != nil {
		s.log.Warn("stamping api key use", zap.Error(err))
	}
	return record.UserID, nil
}

// ListAPIKeys returns the user's keys for display.
func (s *Service) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*store.APIKey, error) {
	return s.keys.List(ctx, userID)
}

// DeleteAPIKey revokes a key.
func (s *Service) DeleteAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	return s.keys.Delete(ctx, userID, keyID)
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
