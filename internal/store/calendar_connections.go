package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantumlife/timeledger/internal/crypto"
	"github.com/quantumlife/timeledger/pkg/errs"
)

var (
	ErrConnectionNotFound = errs.NotFound("calendar connection not found")
	ErrAlreadyConnected   = errs.Conflict("a connection for this provider already exists")
)

// OAuthCredentials carries the provider token material. It exists in
// plaintext only inside this store and the provider adapter; everywhere
// else it is a sealed envelope.
type OAuthCredentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

// CalendarConnection links a user to one external calendar account.
type CalendarConnection struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Provider     string
	Credentials  OAuthCredentials // decrypted; zero value when listed
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CalendarConnectionStore persists connections with sealed credentials.
type CalendarConnectionStore struct {
	q      Querier
	crypto *crypto.EncryptionService
}

// NewCalendarConnectionStore creates a store bound to the pool.
func NewCalendarConnectionStore(pool *pgxpool.Pool, cryptoSvc *crypto.EncryptionService) *CalendarConnectionStore {
	return &CalendarConnectionStore{q: pool, crypto: cryptoSvc}
}

// WithTx returns a copy of the store bound to tx.
func (s *CalendarConnectionStore) WithTx(tx pgx.Tx) *CalendarConnectionStore {
	return &CalendarConnectionStore{q: tx, crypto: s.crypto}
}

// Create inserts a connection with encrypted credentials.
func (s *CalendarConnectionStore) Create(ctx context.Context, userID uuid.UUID, provider string, creds OAuthCredentials) (*CalendarConnection, error) {
	sealed, err := s.seal(creds)
	if err != nil {
		return nil, err
	}

	conn := &CalendarConnection{
		ID:          uuid.New(),
		UserID:      userID,
		Provider:    provider,
		Credentials: creds,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO calendar_connections (id, user_id, provider, credentials_encrypted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, conn.ID, conn.UserID, provider, sealed, conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrAlreadyConnected
		}
		return nil, err
	}

	return conn, nil
}

// GetByID retrieves a connection with decrypted credentials.
func (s *CalendarConnectionStore) GetByID(ctx context.Context, userID, connID uuid.UUID) (*CalendarConnection, error) {
	return s.get(ctx, "id = $1 AND user_id = $2", connID, userID)
}

// GetByIDForSync retrieves a connection without a user predicate.
// Background sync operates across all users.
func (s *CalendarConnectionStore) GetByIDForSync(ctx context.Context, connID uuid.UUID) (*CalendarConnection, error) {
	return s.get(ctx, "id = $1", connID)
}

func (s *CalendarConnectionStore) get(ctx context.Context, where string, args ...any) (*CalendarConnection, error) {
	var sealed []byte
	conn := &CalendarConnection{}

	err := s.q.QueryRow(ctx, `
		SELECT id, user_id, provider, credentials_encrypted, last_synced_at, created_at, updated_at
		FROM calendar_connections WHERE `+where,
		args...,
	).Scan(&conn.ID, &conn.UserID, &conn.Provider, &sealed,
		&conn.LastSyncedAt, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}

	if err := s.open(sealed, &conn.Credentials); err != nil {
		return nil, err
	}
	return conn, nil
}

// List returns the user's connections without credentials.
func (s *CalendarConnectionStore) List(ctx context.Context, userID uuid.UUID) ([]*CalendarConnection, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, user_id, provider, last_synced_at, created_at, updated_at
		FROM calendar_connections WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []*CalendarConnection
	for rows.Next() {
		conn := &CalendarConnection{}
		err := rows.Scan(&conn.ID, &conn.UserID, &conn.Provider,
			&conn.LastSyncedAt, &conn.CreatedAt, &conn.UpdatedAt)
		if err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

// UpdateCredentials reseals refreshed token material.
func (s *CalendarConnectionStore) UpdateCredentials(ctx context.Context, connID uuid.UUID, creds OAuthCredentials) error {
	sealed, err := s.seal(creds)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		UPDATE calendar_connections
		SET credentials_encrypted = $2, updated_at = $3
		WHERE id = $1
	`, connID, sealed, time.Now().UTC())
	return err
}

// UpdateLastSynced stamps the connection-level sync time.
func (s *CalendarConnectionStore) UpdateLastSynced(ctx context.Context, connID uuid.UUID, now time.Time) error {
	_, err := s.q.Exec(ctx, `
		UPDATE calendar_connections
		SET last_synced_at = $2, updated_at = $2
		WHERE id = $1
	`, connID, now)
	return err
}

// Delete removes a connection; calendars and events cascade.
func (s *CalendarConnectionStore) Delete(ctx context.Context, userID, connID uuid.UUID) error {
	tag, err := s.q.Exec(ctx,
		"DELETE FROM calendar_connections WHERE id = $1 AND user_id = $2",
		connID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

func (s *CalendarConnectionStore) seal(creds OAuthCredentials) ([]byte, error) {
	raw, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	return s.crypto.Encrypt(raw)
}

func (s *CalendarConnectionStore) open(sealed []byte, creds *OAuthCredentials) error {
	raw, err := s.crypto.Decrypt(sealed)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, creds)
}
