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

var ErrCalendarNotFound = errs.NotFound("calendar not found")

// Calendar is one calendar within a connection. It carries the synced
// watermark range, the incremental sync token, and the failure budget.
type Calendar struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	UserID       uuid.UUID
	ExternalID   string
	Name         string
	Color        *string
	IsPrimary    bool
	IsSelected   bool

	// Sync state
	SyncToken        *string
	LastSyncedAt     *time.Time
	MinSyncedDate    *time.Time // date precision, midnight UTC
	MaxSyncedDate    *time.Time
	SyncFailureCount int
	NeedsReauth      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Quarantined reports whether automatic sync must skip this calendar.
func (c *Calendar) Quarantined(failureThreshold int) bool {
	return c.NeedsReauth || c.SyncFailureCount >= failureThreshold
}

// CalendarStore provides calendar persistence.
type CalendarStore struct {
	q Querier
}

// NewCalendarStore creates a store bound to the pool.
func NewCalendarStore(pool *pgxpool.Pool) *CalendarStore {
	return &CalendarStore{q: pool}
}

// WithTx returns a copy of the store bound to tx.
func (s *CalendarStore) WithTx(tx pgx.Tx) *CalendarStore {
	return &CalendarStore{q: tx}
}

const calendarColumns = `id, connection_id, user_id, external_id, name, color,
	is_primary, is_selected, sync_token, last_synced_at,
	min_synced_date, max_synced_date, sync_failure_count, needs_reauth,
	created_at, updated_at`

// Upsert inserts or refreshes a calendar from the provider's list.
// Sync state (token, watermarks, failure budget) is never touched here.
func (s *CalendarStore) Upsert(ctx context.Context, cal *Calendar) (*Calendar, error) {
	now := time.Now().UTC()
	row := s.q.QueryRow(ctx, `
		INSERT INTO calendars (id, connection_id, user_id, external_id, name, color, is_primary, is_selected, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (connection_id, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			color = EXCLUDED.color,
			is_primary = EXCLUDED.is_primary,
			updated_at = EXCLUDED.updated_at
		RETURNING `+calendarColumns,
		uuid.New(), cal.ConnectionID, cal.UserID, cal.ExternalID,
		cal.Name, cal.Color, cal.IsPrimary, cal.IsSelected, now)
	return scanCalendar(row)
}

// GetByID retrieves a calendar owned by the user.
func (s *CalendarStore) GetByID(ctx context.Context, userID, calendarID uuid.UUID) (*Calendar, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE id = $1 AND user_id = $2`,
		calendarID, userID)
	cal, err := scanCalendar(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCalendarNotFound
		}
		return nil, err
	}
	return cal, nil
}

// GetByIDForSync retrieves a calendar without a user predicate.
func (s *CalendarStore) GetByIDForSync(ctx context.Context, calendarID uuid.UUID) (*Calendar, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE id = $1`,
		calendarID)
	cal, err := scanCalendar(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCalendarNotFound
		}
		return nil, err
	}
	return cal, nil
}

// List returns the user's calendars; selectedOnly narrows to selected.
func (s *CalendarStore) List(ctx context.Context, userID uuid.UUID, selectedOnly bool) ([]*Calendar, error) {
	query := `SELECT ` + calendarColumns + ` FROM calendars WHERE user_id = $1`
	if selectedOnly {
		query += ` AND is_selected = true`
	}
	query += ` ORDER BY is_primary DESC, name`

	rows, err := s.q.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCalendars(rows)
}

// ListStale returns selected, non-quarantined calendars whose
// last_synced_at is null or older than staleBefore. Feeds the
// background tick; quarantined calendars never appear.
func (s *CalendarStore) ListStale(ctx context.Context, staleBefore time.Time, failureThreshold int) ([]*Calendar, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+calendarColumns+` FROM calendars
		WHERE is_selected = true
		  AND needs_reauth = false
		  AND sync_failure_count < $2
		  AND (last_synced_at IS NULL OR last_synced_at < $1)
		ORDER BY last_synced_at ASC NULLS FIRST
	`, staleBefore, failureThreshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCalendars(rows)
}

// UpdateSelected flips calendar participation in classification and
// time-entry computation.
func (s *CalendarStore) UpdateSelected(ctx context.Context, userID, calendarID uuid.UUID, selected bool) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE calendars SET is_selected = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2
	`, calendarID, userID, selected, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCalendarNotFound
	}
	return nil
}

// UpdateSyncToken saves the provider's next incremental token.
func (s *CalendarStore) UpdateSyncToken(ctx context.Context, calendarID uuid.UUID, token string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE calendars SET sync_token = $2, updated_at = $3 WHERE id = $1
	`, calendarID, token, time.Now().UTC())
	return err
}

// ClearSyncToken forces the next sync to be a full window fetch.
func (s *CalendarStore) ClearSyncToken(ctx context.Context, calendarID uuid.UUID) error {
	_, err := s.q.Exec(ctx, `
		UPDATE calendars SET sync_token = NULL, updated_at = $2 WHERE id = $1
	`, calendarID, time.Now().UTC())
	return err
}

// ExpandSyncedWindow grows the watermark range to cover [minDate, maxDate]
// and stamps last_synced_at. Watermarks only ever widen.
func (s *CalendarStore) ExpandSyncedWindow(ctx context.Context, calendarID uuid.UUID, minDate, maxDate, now time.Time) error {
	_, err := s.q.Exec(ctx, `
		UPDATE calendars SET
			min_synced_date = LEAST(COALESCE(min_synced_date, $2::date), $2::date),
			max_synced_date = GREATEST(COALESCE(max_synced_date, $3::date), $3::date),
			last_synced_at = $4,
			updated_at = $4
		WHERE id = $1
	`, calendarID, minDate, maxDate, now)
	return err
}

// TouchLastSynced stamps last_synced_at without moving watermarks.
// Incremental fetches that return no window still refresh staleness.
func (s *CalendarStore) TouchLastSynced(ctx context.Context, calendarID uuid.UUID, now time.Time) error {
	_, err := s.q.Exec(ctx, `
		UPDATE calendars SET last_synced_at = $2, updated_at = $2 WHERE id = $1
	`, calendarID, now)
	return err
}

// IncrementSyncFailureCount bumps the failure budget and returns the
// new count so the caller can log quarantine onset.
func (s *CalendarStore) IncrementSyncFailureCount(ctx context.Context, calendarID uuid.UUID) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `
		UPDATE calendars
		SET sync_failure_count = sync_failure_count + 1, updated_at = $2
		WHERE id = $1
		RETURNING sync_failure_count
	`, calendarID, time.Now().UTC()).Scan(&count)
	return count, err
}

// ResetSyncFailureCount clears the failure budget after a successful fetch.
func (s *CalendarStore) ResetSyncFailureCount(ctx context.Context, calendarID uuid.UUID) error {
	_, err := s.q.Exec(ctx, `
		UPDATE calendars SET sync_failure_count = 0, updated_at = $2 WHERE id = $1
	`, calendarID, time.Now().UTC())
	return err
}

// MarkNeedsReauth quarantines the calendar until the user reconnects.
func (s *CalendarStore) MarkNeedsReauth(ctx context.Context, calendarID uuid.UUID) error {
	_, err := s.q.Exec(ctx, `
		UPDATE calendars SET needs_reauth = true, updated_at = $2 WHERE id = $1
	`, calendarID, time.Now().UTC())
	return err
}

// ClearQuarantine resets needs_reauth and the failure budget. Only an
// explicit user action calls this.
func (s *CalendarStore) ClearQuarantine(ctx context.Context, userID, calendarID uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE calendars
		SET needs_reauth = false, sync_failure_count = 0, updated_at = $3
		WHERE id = $1 AND user_id = $2
	`, calendarID, userID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCalendarNotFound
	}
	return nil
}

func scanCalendar(row rowScanner) (*Calendar, error) {
	cal := &Calendar{}
	err := row.Scan(
		&cal.ID, &cal.ConnectionID, &cal.UserID, &cal.ExternalID, &cal.Name, &cal.Color,
		&cal.IsPrimary, &cal.IsSelected, &cal.SyncToken, &cal.LastSyncedAt,
		&cal.MinSyncedDate, &cal.MaxSyncedDate, &cal.SyncFailureCount, &cal.NeedsReauth,
		&cal.CreatedAt, &cal.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cal, nil
}

func collectCalendars(rows pgx.Rows) ([]*Calendar, error) {
	var calendars []*Calendar
	for rows.Next() {
		cal, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		calendars = append(calendars, cal)
	}
	return calendars, rows.Err()
}
