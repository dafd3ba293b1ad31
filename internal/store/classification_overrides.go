package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ClassificationOverride is an immutable audit record of a manual
// reclassification. There is no update or delete path.
type ClassificationOverride struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	UserID        uuid.UUID
	FromProjectID *uuid.UUID
	ToProjectID   *uuid.UUID
	FromSource    *string
	Reason        *string
	CreatedAt     time.Time
}

// ClassificationOverrideStore provides override persistence.
type ClassificationOverrideStore struct {
	q Querier
}

// NewClassificationOverrideStore creates a store bound to the pool.
func NewClassificationOverrideStore(pool *pgxpool.Pool) *ClassificationOverrideStore {
	return &ClassificationOverrideStore{q: pool}
}

// Create records an override.
func (s *ClassificationOverrideStore) Create(ctx context.Context, o *ClassificationOverride) (*ClassificationOverride, error) {
	o.ID = uuid.New()
	o.CreatedAt = time.Now().UTC()

	_, err := s.q.Exec(ctx, `
		INSERT INTO classification_overrides
			(id, event_id, user_id, from_project_id, to_project_id, from_source, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.EventID, o.UserID, o.FromProjectID, o.ToProjectID, o.FromSource, o.Reason, o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListByUser returns the user's overrides, newest first.
func (s *ClassificationOverrideStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*ClassificationOverride, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, event_id, user_id, from_project_id, to_project_id, from_source, reason, created_at
		FROM classification_overrides
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []*ClassificationOverride
	for rows.Next() {
		o := &ClassificationOverride{}
		err := rows.Scan(&o.ID, &o.EventID, &o.UserID, &o.FromProjectID,
			&o.ToProjectID, &o.FromSource, &o.Reason, &o.CreatedAt)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}
