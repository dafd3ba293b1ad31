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
	ErrUserNotFound = errs.NotFound("user not found")
	ErrEmailTaken   = errs.Validation("duplicate_email", "email is already registered")
)

// User is the root of all ownership.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserStore provides user persistence.
type UserStore struct {
	q Querier
}

// NewUserStore creates a store bound to the pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{q: pool}
}

// Create inserts a new user. The password hash is computed by the caller.
func (s *UserStore) Create(ctx context.Context, email, name, passwordHash string) (*User, error) {
	u := &User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	return u, nil
}

// GetByID retrieves a user by id.
func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.get(ctx, "id = $1", id)
}

// GetByEmail retrieves a user by email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.get(ctx, "email = $1", email)
}

func (s *UserStore) get(ctx context.Context, where string, arg any) (*User, error) {
	u := &User{}
	err := s.q.QueryRow(ctx, `
		SELECT id, email, name, password_hash, created_at, updated_at
		FROM users WHERE `+where,
		arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}
