package timeentry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/quantumlife/timeledger/internal/classify"
	"github.com/quantumlife/timeledger/internal/store"
)

// Materializer merges ephemeral computed entries with stored rows and
// keeps the stored rows reconciled when classifications change. Rows are
// created only on user edits and invoicing; everything else stays
// ephemeral.
type Materializer struct {
	pool     *pgxpool.Pool
	log      *zap.Logger
	events   *store.CalendarEventStore
	entries  *store.TimeEntryStore
	rounding Rounding
}

var _ classify.Recomputer = (*Materializer)(nil)

// NewMaterializer wires the materializer.
func NewMaterializer(pool *pgxpool.Pool, log *zap.Logger, events *store.CalendarEventStore, entries *store.TimeEntryStore, rounding Rounding) *Materializer {
	return &Materializer{
		pool:     pool,
		log:      log,
		events:   events,
		entries:  entries,
		rounding: rounding,
	}
}

// Entry is the merged read view of one (project, date): a stored row
// when one exists, otherwise the ephemeral computation. Computed values
// are always current.
type Entry struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	Date         time.Time  `json:"date"`
	Hours        float64    `json:"hours"`
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Source       string     `json:"source"`
	Materialized bool       `json:"materialized"`
	HasUserEdits bool       `json:"has_user_edits"`
	IsPinned     bool       `json:"is_pinned"`
	IsLocked     bool       `json:"is_locked"`
	IsStale      bool       `json:"is_stale"`
	InvoiceID    *uuid.UUID `json:"invoice_id,omitempty"`

	ComputedHours        float64         `json:"computed_hours"`
	CalculationDetails   json.RawMessage `json:"calculation_details,omitempty"`
	ContributingEventIDs []uuid.UUID     `json:"contributing_event_ids,omitempty"`
}

// RecomputeDate rebuilds one user-day under the per-date advisory lock:
// computes fresh entries from classified events and reconciles every
// stored row for that date against them.
func (m *Materializer) RecomputeDate(ctx context.Context, userID uuid.UUID, date time.Time) error {
	date = dayOf(date)

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin recompute: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := store.AcquireDateLock(ctx, tx, userID, date.Format("2006-01-02")); err != nil {
		return err
	}

	events := m.events.WithTx(tx)
	entries := m.entries.WithTx(tx)

	evs, err := events.ListForComputation(ctx, userID, date, date.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	computed := ComputeDay(userID, date, evs, m.rounding)

	existing, err := entries.ListByDate(ctx, userID, date)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}

	plan := reconcile(computed, existing)
	for _, u := range plan.updates {
		details, err := json.Marshal(u.computed.Details)
		if err != nil {
			return fmt.Errorf("encode calculation details: %w", err)
		}
		if err := entries.UpdateComputed(ctx, u.entry.ID, u.computed.Hours,
			nullable(u.computed.Title), nullable(u.computed.Description), details, u.stale); err != nil {
			return fmt.Errorf("update computed: %w", err)
		}
		if err := entries.ReplaceContributingEvents(ctx, u.entry.ID, u.computed.EventIDs); err != nil {
			return fmt.Errorf("replace contributing events: %w", err)
		}
	}
	for _, e := range plan.zeroed {
		if err := entries.UpdateComputed(ctx, e.ID, 0, nil, nil, nil, true); err != nil {
			return fmt.Errorf("zero computed: %w", err)
		}
		if err := entries.ReplaceContributingEvents(ctx, e.ID, nil); err != nil {
			return fmt.Errorf("clear contributing events: %w", err)
		}
	}
	for _, e := range plan.deletes {
		if err := entries.Delete(ctx, e.ID); err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit recompute: %w", err)
	}

	m.log.Debug("date recomputed",
		zap.String("user_id", userID.String()),
		zap.Time("date", date),
		zap.Int("computed", len(computed)),
		zap.Int("updated", len(plan.updates)),
		zap.Int("zeroed", len(plan.zeroed)),
		zap.Int("deleted", len(plan.deletes)))
	return nil
}

type entryUpdate struct {
	entry    *store.TimeEntry
	computed Computed
	stale    bool
}

type reconcilePlan struct {
	updates []entryUpdate
	zeroed  []*store.TimeEntry
	deletes []*store.TimeEntry
}

// reconcile decides the fate of each stored row after recomputation.
// Suppressed rows are untouched; rows whose project still has hours get
// fresh computed fields; protected rows without hours are zeroed and
// marked stale; the rest are auto-created leftovers and are deleted.
func reconcile(computed []Computed, existing []*store.TimeEntry) reconcilePlan {
	byProject := make(map[uuid.UUID]Computed, len(computed))
	for _, c := range computed {
		byProject[c.ProjectID] = c
	}

	var plan reconcilePlan
	for _, e := range existing {
		if e.IsSuppressed {
			continue
		}
		c, ok := byProject[e.ProjectID]
		switch {
		case ok:
			plan.updates = append(plan.updates, entryUpdate{entry: e, computed: c, stale: isStale(e, c.Hours)})
		case e.Protected():
			plan.zeroed = append(plan.zeroed, e)
		default:
			plan.deletes = append(plan.deletes, e)
		}
	}
	return plan
}

// isStale reports drift between the user's snapshot and current
// computed hours. Only user-edited rows can be stale.
func isStale(e *store.TimeEntry, computedHours float64) bool {
	if !e.HasUserEdits {
		return false
	}
	return e.SnapshotComputedHours == nil || *e.SnapshotComputedHours != computedHours
}

// ListRange serves the merged ephemeral+materialized view for
// [start, end] inclusive, optionally filtered to one project.
func (m *Materializer) ListRange(ctx context.Context, userID uuid.UUID, start, end time.Time, projectID *uuid.UUID) ([]Entry, error) {
	start, end = dayOf(start), dayOf(end)

	evs, err := m.events.ListForComputation(ctx, userID, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	computed := ComputeRange(userID, evs, m.rounding)
	if projectID != nil {
		filtered := computed[:0]
		for _, c := range computed {
			if c.ProjectID == *projectID {
				filtered = append(filtered, c)
			}
		}
		computed = filtered
	}

	stored, err := m.entries.ListInRange(ctx, userID, start, end, projectID, false)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return merge(computed, stored), nil
}

// merge joins stored rows and fresh computations on (project, date).
// Stored rows win; ephemeral entries fill the gaps.
func merge(computed []Computed, stored []*store.TimeEntry) []Entry {
	type key struct {
		project uuid.UUID
		date    time.Time
	}
	byKey := make(map[key]Computed, len(computed))
	for _, c := range computed {
		byKey[key{c.ProjectID, c.Date}] = c
	}

	var out []Entry
	taken := make(map[key]bool)
	for _, e := range stored {
		k := key{e.ProjectID, dayOf(e.Date)}
		taken[k] = true
		c, ok := byKey[k]

		view := Entry{
			ID:           e.ID,
			ProjectID:    e.ProjectID,
			Date:         dayOf(e.Date),
			Hours:        e.Hours,
			Title:        e.Title,
			Description:  e.Description,
			Source:       e.Source,
			Materialized: true,
			HasUserEdits: e.HasUserEdits,
			IsPinned:     e.IsPinned,
			IsLocked:     e.IsLocked,
			InvoiceID:    e.InvoiceID,
		}
		if ok {
			view.ComputedHours = c.Hours
			if details, err := json.Marshal(c.Details); err == nil {
				view.CalculationDetails = details
			}
			view.ContributingEventIDs = c.EventIDs
		} else {
			view.CalculationDetails = e.CalculationDetails
		}
		view.IsStale = isStale(e, view.ComputedHours)
		out = append(out, view)
	}

	for _, c := range computed {
		if taken[key{c.ProjectID, c.Date}] {
			continue
		}
		view := Entry{
			ID:            c.ID,
			ProjectID:     c.ProjectID,
			Date:          c.Date,
			Hours:         c.Hours,
			Title:         nullable(c.Title),
			Description:   nullable(c.Description),
			Source:        "calendar",
			ComputedHours: c.Hours,
		}
		if details, err := json.Marshal(c.Details); err == nil {
			view.CalculationDetails = details
		}
		view.ContributingEventIDs = c.EventIDs
		out = append(out, view)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ProjectID.String() < out[j].ProjectID.String()
	})
	return out
}

// SetHours applies a user edit, materializing the entry first when it
// only exists ephemerally. A nil hours materializes with the computed
// hours and records no edit. Locked and invoiced entries reject edits.
func (m *Materializer) SetHours(ctx context.Context, userID, projectID uuid.UUID, date time.Time, hours *float64, title, description *string) (*store.TimeEntry, error) {
	date = dayOf(date)

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin edit: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := store.AcquireDateLock(ctx, tx, userID, date.Format("2006-01-02")); err != nil {
		return nil, err
	}
	entries := m.entries.WithTx(tx)

	e, err := m.ensureMaterialized(ctx, tx, userID, projectID, date)
	if err != nil {
		return nil, err
	}
	if hours != nil || title != nil || description != nil {
		h := e.Hours
		if hours != nil {
			h = *hours
		}
		if err := entries.UpdateUserEdit(ctx, userID, e.ID, h, title, description); err != nil {
			return nil, err
		}
	}
	updated, err := entries.GetByID(ctx, userID, e.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit edit: %w", err)
	}
	return updated, nil
}

// Refresh discards a user edit, returning the entry to its computed
// values, then recomputes the day so the freshest numbers land.
func (m *Materializer) Refresh(ctx context.Context, userID, projectID uuid.UUID, date time.Time) (*store.TimeEntry, error) {
	date = dayOf(date)

	e, err := m.entries.GetByProjectAndDate(ctx, userID, projectID, date)
	if err != nil {
		return nil, err
	}
	if err := m.entries.ClearUserEdits(ctx, userID, e.ID); err != nil {
		return nil, err
	}
	if err := m.RecomputeDate(ctx, userID, date); err != nil {
		return nil, err
	}
	// The recompute may have deleted the row once nothing protected it.
	refreshed, err := m.entries.GetByProjectAndDate(ctx, userID, projectID, date)
	if errors.Is(err, store.ErrTimeEntryNotFound) {
		return nil, nil
	}
	return refreshed, err
}

// SetPinned toggles auto-delete protection, materializing if needed.
func (m *Materializer) SetPinned(ctx context.Context, userID, projectID uuid.UUID, date time.Time, pinned bool) error {
	return m.setFlag(ctx, userID, projectID, date, pinned, false)
}

// SetSuppressed hides an entry and blocks its recreation,
// materializing if needed.
func (m *Materializer) SetSuppressed(ctx context.Context, userID, projectID uuid.UUID, date time.Time, suppressed bool) error {
	return m.setFlag(ctx, userID, projectID, date, suppressed, true)
}

func (m *Materializer) setFlag(ctx context.Context, userID, projectID uuid.UUID, date time.Time, value, suppress bool) error {
	date = dayOf(date)

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin flag update: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := store.AcquireDateLock(ctx, tx, userID, date.Format("2006-01-02")); err != nil {
		return err
	}
	e, err := m.ensureMaterialized(ctx, tx, userID, projectID, date)
	if err != nil {
		return err
	}
	entries := m.entries.WithTx(tx)
	if suppress {
		err = entries.SetSuppressed(ctx, userID, e.ID, value)
	} else {
		err = entries.SetPinned(ctx, userID, e.ID, value)
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MaterializeRange persists every (project, day) in [start, end]
// inclusive for invoicing, inserting 0h placeholders for days with no
// computed hours. Runs inside the caller's transaction. Suppressed
// rows stay suppressed and are returned with the rest; the caller
// decides how a suppressed day is billed.
func (m *Materializer) MaterializeRange(ctx context.Context, tx pgx.Tx, userID, projectID uuid.UUID, start, end time.Time) ([]*store.TimeEntry, error) {
	start, end = dayOf(start), dayOf(end)
	entries := m.entries.WithTx(tx)
	events := m.events.WithTx(tx)

	evs, err := events.ListForComputation(ctx, userID, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	byDate := make(map[time.Time]Computed)
	for _, c := range ComputeRange(userID, evs, m.rounding) {
		if c.ProjectID == projectID {
			byDate[c.Date] = c
		}
	}

	existing, err := entries.ListInRange(ctx, userID, start, end, &projectID, true)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	existingByDate := make(map[time.Time]*store.TimeEntry, len(existing))
	for _, e := range existing {
		existingByDate[dayOf(e.Date)] = e
	}

	var out []*store.TimeEntry
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if e, ok := existingByDate[day]; ok {
			out = append(out, e)
			continue
		}
		c := byDate[day] // zero value yields a 0h placeholder
		e, err := m.createFromComputed(ctx, entries, userID, projectID, day, c)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ensureMaterialized returns the stored row for (project, date),
// creating it from the current computation when none exists.
func (m *Materializer) ensureMaterialized(ctx context.Context, tx pgx.Tx, userID, projectID uuid.UUID, date time.Time) (*store.TimeEntry, error) {
	entries := m.entries.WithTx(tx)

	e, err := entries.GetByProjectAndDate(ctx, userID, projectID, date)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, store.ErrTimeEntryNotFound) {
		return nil, err
	}

	evs, err := m.events.WithTx(tx).ListForComputation(ctx, userID, date, date.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	var c Computed
	for _, candidate := range ComputeDay(userID, date, evs, m.rounding) {
		if candidate.ProjectID == projectID {
			c = candidate
			break
		}
	}
	return m.createFromComputed(ctx, entries, userID, projectID, date, c)
}

// createFromComputed inserts a row snapshotting the current computed
// hours. A zero-valued Computed produces a 0h placeholder with source
// manual, since no calendar events back it.
func (m *Materializer) createFromComputed(ctx context.Context, entries *store.TimeEntryStore, userID, projectID uuid.UUID, date time.Time, c Computed) (*store.TimeEntry, error) {
	details, err := json.Marshal(c.Details)
	if err != nil {
		return nil, fmt.Errorf("encode calculation details: %w", err)
	}

	hours := c.Hours
	source := "calendar"
	if len(c.EventIDs) == 0 {
		source = "manual"
	}

	e := &store.TimeEntry{
		ID:                    EntryID(userID, projectID, date),
		UserID:                userID,
		ProjectID:             projectID,
		Date:                  date,
		Hours:                 hours,
		Title:                 nullable(c.Title),
		Description:           nullable(c.Description),
		Source:                source,
		SnapshotComputedHours: &hours,
		ComputedHours:         &hours,
		ComputedTitle:         nullable(c.Title),
		ComputedDescription:   nullable(c.Description),
		CalculationDetails:    details,
	}
	if _, err := entries.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("materialize entry: %w", err)
	}
	if len(c.EventIDs) > 0 {
		if err := entries.ReplaceContributingEvents(ctx, e.ID, c.EventIDs); err != nil {
			return nil, fmt.Errorf("record contributing events: %w", err)
		}
	}
	return e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
