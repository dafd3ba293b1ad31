package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantumlife/timeledger/pkg/errs"
)

var (
	ErrTimeEntryNotFound = errs.NotFound("time entry not found")
	ErrTimeEntryLocked   = errs.Conflict("time entry is locked by an invoice")
)

// TimeEntry is a materialized per-(project, day) entry. Ephemeral
// entries never reach this store; they exist only as analyzer output
// until a user edit or an invoice materializes them.
type TimeEntry struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ProjectID uuid.UUID
	Date      time.Time // date precision, midnight UTC

	Hours       float64
	Title       *string
	Description *string
	Source      string // calendar | manual
	InvoiceID   *uuid.UUID

	HasUserEdits bool
	IsPinned     bool
	IsLocked     bool
	IsStale      bool
	IsSuppressed bool

	SnapshotComputedHours *float64
	ComputedHours         *float64
	ComputedTitle         *string
	ComputedDescription   *string
	CalculationDetails    json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Protected reports whether recomputation must not delete this entry.
func (e *TimeEntry) Protected() bool {
	return e.IsPinned || e.IsLocked || e.InvoiceID != nil || e.HasUserEdits
}

// TimeEntryStore provides time entry persistence.
type TimeEntryStore struct {
	q Querier
}

// NewTimeEntryStore creates a store bound to the pool.
func NewTimeEntryStore(pool *pgxpool.Pool) *TimeEntryStore {
	return &TimeEntryStore{q: pool}
}

// WithTx returns a copy of the store bound to tx.
func (s *TimeEntryStore) WithTx(tx pgx.Tx) *TimeEntryStore {
	return &TimeEntryStore{q: tx}
}

const entryColumns = `id, user_id, project_id, date, hours, title, description, source,
	invoice_id, has_user_edits, is_pinned, is_locked, is_stale, is_suppressed,
	snapshot_computed_hours, computed_hours, computed_title, computed_description,
	calculation_details, created_at, updated_at`

// Create materializes an entry row.
func (s *TimeEntryStore) Create(ctx context.Context, e *TimeEntry) (*TimeEntry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	e.UpdatedAt = e.CreatedAt

	_, err := s.q.Exec(ctx, `
		INSERT INTO time_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, e.ID, e.UserID, e.ProjectID, e.Date, e.Hours, e.Title, e.Description, e.Source,
		e.InvoiceID, e.HasUserEdits, e.IsPinned, e.IsLocked, e.IsStale, e.IsSuppressed,
		e.SnapshotComputedHours, e.ComputedHours, e.ComputedTitle, e.ComputedDescription,
		e.CalculationDetails, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID retrieves an entry owned by the user.
func (s *TimeEntryStore) GetByID(ctx context.Context, userID, entryID uuid.UUID) (*TimeEntry, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM time_entries WHERE id = $1 AND user_id = $2`,
		entryID, userID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTimeEntryNotFound
		}
		return nil, err
	}
	return e, nil
}

// GetByProjectAndDate retrieves the unique entry for a (project, date).
func (s *TimeEntryStore) GetByProjectAndDate(ctx context.Context, userID, projectID uuid.UUID, date time.Time) (*TimeEntry, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM time_entries
		 WHERE user_id = $1 AND project_id = $2 AND date = $3`,
		userID, projectID, date)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTimeEntryNotFound
		}
		return nil, err
	}
	return e, nil
}

// ListByDate returns every materialized entry for one user-day,
// including suppressed ones. The materializer reconciles against this.
func (s *TimeEntryStore) ListByDate(ctx context.Context, userID uuid.UUID, date time.Time) ([]*TimeEntry, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+entryColumns+` FROM time_entries WHERE user_id = $1 AND date = $2`,
		userID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ListInRange returns materialized entries in [start, end], oldest
// first. Suppressed entries are excluded unless includeSuppressed.
func (s *TimeEntryStore) ListInRange(ctx context.Context, userID uuid.UUID, start, end time.Time, projectID *uuid.UUID, includeSuppressed bool) ([]*TimeEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM time_entries
		WHERE user_id = $1 AND date >= $2 AND date <= $3`
	args := []any{userID, start, end}
	if projectID != nil {
		args = append(args, *projectID)
		query += ` AND project_id = $4`
	}
	if !includeSuppressed {
		query += ` AND is_suppressed = false`
	}
	query += ` ORDER BY date, project_id`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// UpdateComputed refreshes the computed fields after recomputation.
// User-editable fields (hours, title, description) are not touched.
func (s *TimeEntryStore) UpdateComputed(ctx context.Context, entryID uuid.UUID, hours float64, title, description *string, details json.RawMessage, stale bool) error {
	_, err := s.q.Exec(ctx, `
		UPDATE time_entries SET
			computed_hours = $2, computed_title = $3, computed_description = $4,
			calculation_details = $5, is_stale = $6, updated_at = $7
		WHERE id = $1
	`, entryID, hours, title, description, details, stale, time.Now().UTC())
	return err
}

// UpdateUserEdit applies a user edit: hours and text become authoritative,
// the current computed hours are snapshotted for staleness detection.
// Locked and invoiced entries reject hour changes.
func (s *TimeEntryStore) UpdateUserEdit(ctx context.Context, userID, entryID uuid.UUID, hours float64, title, description *string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE time_entries SET
			hours = $3, title = $4, description = $5,
			has_user_edits = true,
			snapshot_computed_hours = computed_hours,
			is_stale = false,
			updated_at = $6
		WHERE id = $1 AND user_id = $2
		  AND is_locked = false AND invoice_id IS NULL
	`, entryID, userID, hours, title, description, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from locked.
		if _, err := s.GetByID(ctx, userID, entryID); err != nil {
			return err
		}
		return ErrTimeEntryLocked
	}
	return nil
}

// ClearUserEdits reverts an edited entry to its computed values and
// drops the staleness marker. Locked and invoiced entries reject it.
func (s *TimeEntryStore) ClearUserEdits(ctx context.Context, userID, entryID uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE time_entries SET
			hours = COALESCE(computed_hours, 0),
			title = computed_title,
			description = computed_description,
			has_user_edits = false,
			snapshot_computed_hours = NULL,
			is_stale = false,
			updated_at = $3
		WHERE id = $1 AND user_id = $2
		  AND is_locked = false AND invoice_id IS NULL
	`, entryID, userID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, userID, entryID); err != nil {
			return err
		}
		return ErrTimeEntryLocked
	}
	return nil
}

// SetPinned protects an entry from auto-deletion.
func (s *TimeEntryStore) SetPinned(ctx context.Context, userID, entryID uuid.UUID, pinned bool) error {
	return s.setFlag(ctx, userID, entryID, "is_pinned", pinned)
}

// SetSuppressed hides an entry from listings and blocks recreation.
func (s *TimeEntryStore) SetSuppressed(ctx context.Context, userID, entryID uuid.UUID, suppressed bool) error {
	return s.setFlag(ctx, userID, entryID, "is_suppressed", suppressed)
}

func (s *TimeEntryStore) setFlag(ctx context.Context, userID, entryID uuid.UUID, column string, value bool) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE time_entries SET `+column+` = $3, updated_at = $4 WHERE id = $1 AND user_id = $2`,
		entryID, userID, value, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTimeEntryNotFound
	}
	return nil
}

// Delete removes an unprotected entry.
func (s *TimeEntryStore) Delete(ctx context.Context, entryID uuid.UUID) error {
	tag, err := s.q.Exec(ctx, "DELETE FROM time_entries WHERE id = $1", entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTimeEntryNotFound
	}
	return nil
}

// AttachInvoice locks entries to an invoice.
func (s *TimeEntryStore) AttachInvoice(ctx context.Context, entryIDs []uuid.UUID, invoiceID uuid.UUID) error {
	_, err := s.q.Exec(ctx, `
		UPDATE time_entries SET invoice_id = $2, is_locked = true, updated_at = $3
		WHERE id = ANY($1)
	`, entryIDs, invoiceID, time.Now().UTC())
	return err
}

// DetachInvoice unlocks entries when a draft invoice is deleted.
func (s *TimeEntryStore) DetachInvoice(ctx context.Context, invoiceID uuid.UUID) error {
	_, err := s.q.Exec(ctx, `
		UPDATE time_entries SET invoice_id = NULL, is_locked = false, updated_at = $2
		WHERE invoice_id = $1
	`, invoiceID, time.Now().UTC())
	return err
}

// ReplaceContributingEvents rewrites the entry-to-event junction rows.
func (s *TimeEntryStore) ReplaceContributingEvents(ctx context.Context, entryID uuid.UUID, eventIDs []uuid.UUID) error {
	if _, err := s.q.Exec(ctx,
		"DELETE FROM time_entry_events WHERE time_entry_id = $1", entryID); err != nil {
		return err
	}
	for _, eventID := range eventIDs {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO time_entry_events (time_entry_id, calendar_event_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, entryID, eventID); err != nil {
			return err
		}
	}
	return nil
}

// ContributingEventIDs returns the event ids behind an entry.
func (s *TimeEntryStore) ContributingEventIDs(ctx context.Context, entryID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.q.Query(ctx,
		"SELECT calendar_event_id FROM time_entry_events WHERE time_entry_id = $1", entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanEntry(row rowScanner) (*TimeEntry, error) {
	e := &TimeEntry{}
	err := row.Scan(
		&e.ID, &e.UserID, &e.ProjectID, &e.Date, &e.Hours, &e.Title, &e.Description, &e.Source,
		&e.InvoiceID, &e.HasUserEdits, &e.IsPinned, &e.IsLocked, &e.IsStale, &e.IsSuppressed,
		&e.SnapshotComputedHours, &e.ComputedHours, &e.ComputedTitle, &e.ComputedDescription,
		&e.CalculationDetails, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]*TimeEntry, error) {
	var entries []*TimeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
