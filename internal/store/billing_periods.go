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
	ErrBillingPeriodNotFound = errs.NotFound("billing period not found")
	ErrBillingPeriodOverlap  = errs.Validation("billing_period_overlap", "billing periods for a project cannot overlap")
)

// BillingPeriod fixes an hourly rate over a date interval. A nil EndsOn
// means open-ended; the overlap trigger treats it as extending forever.
type BillingPeriod struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ProjectID  uuid.UUID
	StartsOn   time.Time
	EndsOn     *time.Time
	HourlyRate float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Covers reports whether the period applies to the given date.
func (p *BillingPeriod) Covers(date time.Time) bool {
	if date.Before(p.StartsOn) {
		return false
	}
	return p.EndsOn == nil || !date.After(*p.EndsOn)
}

// BillingPeriodStore provides billing period persistence.
type BillingPeriodStore struct {
	q Querier
}

// NewBillingPeriodStore creates a store bound to the pool.
func NewBillingPeriodStore(pool *pgxpool.Pool) *BillingPeriodStore {
	return &BillingPeriodStore{q: pool}
}

const billingColumns = `id, user_id, project_id, starts_on, ends_on, hourly_rate, created_at, updated_at`

// Create inserts a period. The database trigger rejects overlaps.
func (s *BillingPeriodStore) Create(ctx context.Context, p *BillingPeriod) (*BillingPeriod, error) {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt

	_, err := s.q.Exec(ctx, `
		INSERT INTO billing_periods (`+billingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.UserID, p.ProjectID, p.StartsOn, p.EndsOn, p.HourlyRate, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isExclusionViolation(err) {
			return nil, ErrBillingPeriodOverlap
		}
		return nil, err
	}
	return p, nil
}

// Update replaces a period's interval and rate.
func (s *BillingPeriodStore) Update(ctx context.Context, p *BillingPeriod) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := s.q.Exec(ctx, `
		UPDATE billing_periods SET
			starts_on = $3, ends_on = $4, hourly_rate = $5, updated_at = $6
		WHERE id = $1 AND user_id = $2
	`, p.ID, p.UserID, p.StartsOn, p.EndsOn, p.HourlyRate, p.UpdatedAt)
	if err != nil {
		if isExclusionViolation(err) {
			return ErrBillingPeriodOverlap
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBillingPeriodNotFound
	}
	return nil
}

// ListByProject returns a project's periods, earliest first.
func (s *BillingPeriodStore) ListByProject(ctx context.Context, userID, projectID uuid.UUID) ([]*BillingPeriod, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+billingColumns+` FROM billing_periods
		 WHERE user_id = $1 AND project_id = $2 ORDER BY starts_on`,
		userID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []*BillingPeriod
	for rows.Next() {
		p := &BillingPeriod{}
		err := rows.Scan(&p.ID, &p.UserID, &p.ProjectID, &p.StartsOn, &p.EndsOn,
			&p.HourlyRate, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// GetByID retrieves a period owned by the user.
func (s *BillingPeriodStore) GetByID(ctx context.Context, userID, periodID uuid.UUID) (*BillingPeriod, error) {
	p := &BillingPeriod{}
	err := s.q.QueryRow(ctx,
		`SELECT `+billingColumns+` FROM billing_periods WHERE id = $1 AND user_id = $2`,
		periodID, userID,
	).Scan(&p.ID, &p.UserID, &p.ProjectID, &p.StartsOn, &p.EndsOn,
		&p.HourlyRate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBillingPeriodNotFound
		}
		return nil, err
	}
	return p, nil
}

// Delete removes a period.
func (s *BillingPeriodStore) Delete(ctx context.Context, userID, periodID uuid.UUID) error {
	tag, err := s.q.Exec(ctx,
		"DELETE FROM billing_periods WHERE id = $1 AND user_id = $2",
		periodID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBillingPeriodNotFound
	}
	return nil
}
