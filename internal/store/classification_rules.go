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

var ErrRuleNotFound = errs.NotFound("classification rule not found")

// ClassificationRule maps a saved query to a project or an attendance
// flag. Exactly one of ProjectID and Attended is set; the database
// CHECK enforces the same.
type ClassificationRule struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Query     string
	ProjectID *uuid.UUID
	Attended  *bool
	Weight    float64
	IsEnabled bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClassificationRuleStore provides rule persistence.
type ClassificationRuleStore struct {
	q Querier
}

// NewClassificationRuleStore creates a store bound to the pool.
func NewClassificationRuleStore(pool *pgxpool.Pool) *ClassificationRuleStore {
	return &ClassificationRuleStore{q: pool}
}

const ruleColumns = `id, user_id, query, project_id, attended, weight, is_enabled, created_at, updated_at`

// Create inserts a rule. The query must already be validated.
func (s *ClassificationRuleStore) Create(ctx context.Context, r *ClassificationRule) (*ClassificationRule, error) {
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	if r.Weight == 0 {
		r.Weight = 1.0
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO classification_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.UserID, r.Query, r.ProjectID, r.Attended, r.Weight, r.IsEnabled,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Update replaces the rule's mutable fields.
func (s *ClassificationRuleStore) Update(ctx context.Context, r *ClassificationRule) error {
	r.UpdatedAt = time.Now().UTC()
	tag, err := s.q.Exec(ctx, `
		UPDATE classification_rules SET
			query = $3, project_id = $4, attended = $5, weight = $6,
			is_enabled = $7, updated_at = $8
		WHERE id = $1 AND user_id = $2
	`, r.ID, r.UserID, r.Query, r.ProjectID, r.Attended, r.Weight, r.IsEnabled, r.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// GetByID retrieves a rule owned by the user.
func (s *ClassificationRuleStore) GetByID(ctx context.Context, userID, ruleID uuid.UUID) (*ClassificationRule, error) {
	r := &ClassificationRule{}
	err := s.q.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM classification_rules WHERE id = $1 AND user_id = $2`,
		ruleID, userID,
	).Scan(&r.ID, &r.UserID, &r.Query, &r.ProjectID, &r.Attended, &r.Weight,
		&r.IsEnabled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return r, nil
}

// List returns all rules for the user; enabledOnly narrows to enabled.
// Newest first, matching tie-break order during evaluation.
func (s *ClassificationRuleStore) List(ctx context.Context, userID uuid.UUID, enabledOnly bool) ([]*ClassificationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM classification_rules WHERE user_id = $1`
	if enabledOnly {
		query += ` AND is_enabled = true`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.q.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*ClassificationRule
	for rows.Next() {
		r := &ClassificationRule{}
		err := rows.Scan(&r.ID, &r.UserID, &r.Query, &r.ProjectID, &r.Attended,
			&r.Weight, &r.IsEnabled, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// Delete removes a rule.
func (s *ClassificationRuleStore) Delete(ctx context.Context, userID, ruleID uuid.UUID) error {
	tag, err := s.q.Exec(ctx,
		"DELETE FROM classification_rules WHERE id = $1 AND user_id = $2",
		ruleID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}
