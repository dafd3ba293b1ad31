package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantumlife/timeledger/pkg/errs"
)

var ErrEventNotFound = errs.NotFound("calendar event not found")

// ClassificationSource values mirror the classification_source enum.
const (
	SourceRule        = "rule"
	SourceFingerprint = "fingerprint"
	SourceManual      = "manual"
	SourceLLM         = "llm"
)

// CalendarEvent is a synced provider event plus its classification state.
// Events are never hard-deleted; provider deletions orphan them.
type CalendarEvent struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	CalendarID   *uuid.UUID
	UserID       uuid.UUID
	ExternalID   string

	Title          string
	Description    *string
	StartTime      time.Time
	EndTime        time.Time
	IsAllDay       bool
	Attendees      []string
	OrganizerEmail *string
	IsRecurring    bool
	ResponseStatus *string
	Transparency   *string

	IsOrphaned   bool
	IsSuppressed bool
	IsSkipped    bool

	ClassificationStatus     string // pending | classified
	ClassificationSource     *string
	ClassificationConfidence *float64
	ClassificationRuleID     *uuid.UUID
	NeedsReview              bool
	ProjectID                *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventFilter narrows List queries. Zero values mean "no filter".
type EventFilter struct {
	Start           *time.Time
	End             *time.Time
	CalendarID      *uuid.UUID
	ProjectID       *uuid.UUID
	Status          string // pending | classified
	NeedsReview     *bool
	IncludeOrphaned bool
}

// Classification is the result applied to an event.
type Classification struct {
	ProjectID   *uuid.UUID
	Skip        bool
	Source      string
	Confidence  float64
	RuleID      *uuid.UUID
	NeedsReview bool
}

// CalendarEventStore provides event persistence.
type CalendarEventStore struct {
	q Querier
}

// NewCalendarEventStore creates a store bound to the pool.
func NewCalendarEventStore(pool *pgxpool.Pool) *CalendarEventStore {
	return &CalendarEventStore{q: pool}
}

// WithTx returns a copy of the store bound to tx.
func (s *CalendarEventStore) WithTx(tx pgx.Tx) *CalendarEventStore {
	return &CalendarEventStore{q: tx}
}

const eventColumns = `id, connection_id, calendar_id, user_id, external_id,
	title, description, start_time, end_time, is_all_day, attendees, organizer_email,
	is_recurring, response_status, transparency,
	is_orphaned, is_suppressed, is_skipped,
	classification_status, classification_source, classification_confidence,
	classification_rule_id, needs_review, project_id, created_at, updated_at`

// Upsert inserts or refreshes an event keyed by (connection_id,
// external_id). Provider-sourced fields are replaced; classification
// state survives updates, and an update un-orphans a resurrected event.
func (s *CalendarEventStore) Upsert(ctx context.Context, e *CalendarEvent) (*CalendarEvent, error) {
	now := time.Now().UTC()
	row := s.q.QueryRow(ctx, `
		INSERT INTO calendar_events (
			id, connection_id, calendar_id, user_id, external_id,
			title, description, start_time, end_time, is_all_day, attendees, organizer_email,
			is_recurring, response_status, transparency, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT (connection_id, external_id) DO UPDATE SET
			calendar_id = EXCLUDED.calendar_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			is_all_day = EXCLUDED.is_all_day,
			attendees = EXCLUDED.attendees,
			organizer_email = EXCLUDED.organizer_email,
			is_recurring = EXCLUDED.is_recurring,
			response_status = EXCLUDED.response_status,
			transparency = EXCLUDED.transparency,
			is_orphaned = false,
			updated_at = EXCLUDED.updated_at
		RETURNING `+eventColumns,
		uuid.New(), e.ConnectionID, e.CalendarID, e.UserID, e.ExternalID,
		e.Title, e.Description, e.StartTime, e.EndTime, e.IsAllDay, e.Attendees, e.OrganizerEmail,
		e.IsRecurring, e.ResponseStatus, e.Transparency, now)
	return scanEvent(row)
}

// GetByID retrieves an event owned by the user.
func (s *CalendarEventStore) GetByID(ctx context.Context, userID, eventID uuid.UUID) (*CalendarEvent, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM calendar_events WHERE id = $1 AND user_id = $2`,
		eventID, userID)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return e, nil
}

// MarkOrphaned soft-deletes an event the provider cancelled.
// Classification is preserved for history.
func (s *CalendarEventStore) MarkOrphaned(ctx context.Context, connectionID uuid.UUID, externalID string) error {
	_, err := s.q.Exec(ctx, `
		UPDATE calendar_events SET is_orphaned = true, updated_at = $3
		WHERE connection_id = $1 AND external_id = $2
	`, connectionID, externalID, time.Now().UTC())
	return err
}

// MarkOrphanedInRangeExcept orphans every event of the calendar inside
// [start, end) that the latest full fetch did not return. Only full
// window fetches may call this; incremental fetches cannot see the
// whole window.
func (s *CalendarEventStore) MarkOrphanedInRangeExcept(ctx context.Context, calendarID uuid.UUID, start, end time.Time, keepExternalIDs []string) error {
	if keepExternalIDs == nil {
		keepExternalIDs = []string{}
	}
	_, err := s.q.Exec(ctx, `
		UPDATE calendar_events SET is_orphaned = true, updated_at = $4
		WHERE calendar_id = $1
		  AND start_time >= $2 AND start_time < $3
		  AND is_orphaned = false
		  AND NOT (external_id = ANY($5))
	`, calendarID, start, end, time.Now().UTC(), keepExternalIDs)
	return err
}

// List returns the user's events under the given filter, oldest first.
func (s *CalendarEventStore) List(ctx context.Context, userID uuid.UUID, f EventFilter) ([]*CalendarEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM calendar_events WHERE user_id = $1`
	args := []any{userID}

	add := func(clause string, arg any) {
		args = append(args, arg)
		query += ` AND ` + clause + ` $` + strconv.Itoa(len(args))
	}

	if f.Start != nil {
		add("start_time >=", *f.Start)
	}
	if f.End != nil {
		add("start_time <", *f.End)
	}
	if f.CalendarID != nil {
		add("calendar_id =", *f.CalendarID)
	}
	if f.ProjectID != nil {
		add("project_id =", *f.ProjectID)
	}
	if f.Status != "" {
		add("classification_status =", f.Status)
	}
	if f.NeedsReview != nil {
		add("needs_review =", *f.NeedsReview)
	}
	if !f.IncludeOrphaned {
		query += ` AND is_orphaned = false`
	}
	query += ` ORDER BY start_time ASC`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListForComputation returns the events that feed the time-entry
// computer for one user-day: classified to a project, on a selected
// calendar, not orphaned, not suppressed, not skipped.
func (s *CalendarEventStore) ListForComputation(ctx context.Context, userID uuid.UUID, dayStart, dayEnd time.Time) ([]*CalendarEvent, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+prefixedEventColumns("e")+`
		FROM calendar_events e
		JOIN calendars c ON c.id = e.calendar_id
		WHERE e.user_id = $1
		  AND e.start_time >= $2 AND e.start_time < $3
		  AND e.classification_status = 'classified'
		  AND e.project_id IS NOT NULL
		  AND e.is_orphaned = false
		  AND e.is_suppressed = false
		  AND e.is_skipped = false
		  AND c.is_selected = true
		ORDER BY e.start_time ASC
	`, userID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// Classify applies a classification result to an event.
func (s *CalendarEventStore) Classify(ctx context.Context, eventID uuid.UUID, c Classification) (*CalendarEvent, error) {
	confidence := c.Confidence
	if c.Source == SourceManual {
		confidence = 1.0
	}
	row := s.q.QueryRow(ctx, `
		UPDATE calendar_events SET
			classification_status = 'classified',
			classification_source = $2,
			classification_confidence = $3,
			classification_rule_id = $4,
			needs_review = $5,
			project_id = $6,
			is_skipped = $7,
			updated_at = $8
		WHERE id = $1
		RETURNING `+eventColumns,
		eventID, c.Source, confidence, c.RuleID, c.NeedsReview, c.ProjectID, c.Skip,
		time.Now().UTC())
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return e, nil
}

// ResetClassification returns an event to pending.
func (s *CalendarEventStore) ResetClassification(ctx context.Context, userID, eventID uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE calendar_events SET
			classification_status = 'pending',
			classification_source = NULL,
			classification_confidence = NULL,
			classification_rule_id = NULL,
			needs_review = false,
			project_id = NULL,
			is_skipped = false,
			updated_at = $3
		WHERE id = $1 AND user_id = $2
	`, eventID, userID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// SetSuppressed hides or unhides an event from computation.
func (s *CalendarEventStore) SetSuppressed(ctx context.Context, userID, eventID uuid.UUID, suppressed bool) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE calendar_events SET is_suppressed = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2
	`, eventID, userID, suppressed, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func scanEvent(row rowScanner) (*CalendarEvent, error) {
	e := &CalendarEvent{}
	err := row.Scan(
		&e.ID, &e.ConnectionID, &e.CalendarID, &e.UserID, &e.ExternalID,
		&e.Title, &e.Description, &e.StartTime, &e.EndTime, &e.IsAllDay, &e.Attendees, &e.OrganizerEmail,
		&e.IsRecurring, &e.ResponseStatus, &e.Transparency,
		&e.IsOrphaned, &e.IsSuppressed, &e.IsSkipped,
		&e.ClassificationStatus, &e.ClassificationSource, &e.ClassificationConfidence,
		&e.ClassificationRuleID, &e.NeedsReview, &e.ProjectID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func collectEvents(rows pgx.Rows) ([]*CalendarEvent, error) {
	var events []*CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func prefixedEventColumns(alias string) string {
	return alias + `.id, ` + alias + `.connection_id, ` + alias + `.calendar_id, ` +
		alias + `.user_id, ` + alias + `.external_id, ` + alias + `.title, ` +
		alias + `.description, ` + alias + `.start_time, ` + alias + `.end_time, ` +
		alias + `.is_all_day, ` + alias + `.attendees, ` + alias + `.organizer_email, ` +
		alias + `.is_recurring, ` + alias + `.response_status, ` + alias + `.transparency, ` +
		alias + `.is_orphaned, ` + alias + `.is_suppressed, ` + alias + `.is_skipped, ` +
		alias + `.classification_status, ` + alias + `.classification_source, ` +
		alias + `.classification_confidence, ` + alias + `.classification_rule_id, ` +
		alias + `.needs_review, ` + alias + `.project_id, ` + alias + `.created_at, ` +
		alias + `.updated_at`
}
