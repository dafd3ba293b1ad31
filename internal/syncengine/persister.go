package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/quantumlife/timeledger/internal/connectors/calendar"
	"github.com/quantumlife/timeledger/internal/store"
)

// PgxPersister applies fetch results inside one transaction so a crash
// mid-apply never leaves watermarks claiming data that was not stored.
type PgxPersister struct {
	pool        *pgxpool.Pool
	log         *zap.Logger
	connections *store.CalendarConnectionStore
	calendars   *store.CalendarStore
	events      *store.CalendarEventStore
}

var _ Persister = (*PgxPersister)(nil)

// NewPgxPersister wires a persister over the pool-bound stores.
func NewPgxPersister(pool *pgxpool.Pool, log *zap.Logger,
	connections *store.CalendarConnectionStore,
	calendars *store.CalendarStore,
	events *store.CalendarEventStore) *PgxPersister {
	return &PgxPersister{
		pool:        pool,
		log:         log,
		connections: connections,
		calendars:   calendars,
		events:      events,
	}
}

// ApplySyncResult upserts the fetched events, orphans cancellations,
// and advances sync state. Watermarks widen only on full window
// fetches; incremental results just refresh last_synced_at. Orphaning
// by absence likewise only happens on full fetches, since incremental
// results never describe the whole window.
func (p *PgxPersister) ApplySyncResult(ctx context.Context, cal *store.Calendar, res *calendar.FetchResult, now time.Time) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	events := p.events.WithTx(tx)
	calendars := p.calendars.WithTx(tx)
	connections := p.connections.WithTx(tx)

	kept := make([]string, 0, len(res.Events))
	for _, ev := range res.Events {
		if ev.IsCancelled {
			if err := events.MarkOrphaned(ctx, cal.ConnectionID, ev.ExternalID); err != nil {
				return fmt.Errorf("orphan event %s: %w", calendar.RedactedExternalID(ev.ExternalID), err)
			}
			continue
		}
		kept = append(kept, ev.ExternalID)
		if _, err := events.Upsert(ctx, storedEvent(cal, ev)); err != nil {
			return fmt.Errorf("upsert event %s: %w", calendar.RedactedExternalID(ev.ExternalID), err)
		}
	}

	if res.FullSync {
		if err := events.MarkOrphanedInRangeExcept(ctx, cal.ID, res.Range.Start, res.Range.End, kept); err != nil {
			return fmt.Errorf("orphan absent events: %w", err)
		}
		maxDate := res.Range.End.AddDate(0, 0, -1) // exclusive end to inclusive date
		if err := calendars.ExpandSyncedWindow(ctx, cal.ID, res.Range.Start, maxDate, now); err != nil {
			return fmt.Errorf("expand synced window: %w", err)
		}
	} else {
		if err := calendars.TouchLastSynced(ctx, cal.ID, now); err != nil {
			return fmt.Errorf("touch last synced: %w", err)
		}
	}

	if res.NextSyncToken != "" {
		if err := calendars.UpdateSyncToken(ctx, cal.ID, res.NextSyncToken); err != nil {
			return fmt.Errorf("save sync token: %w", err)
		}
	}
	if err := calendars.ResetSyncFailureCount(ctx, cal.ID); err != nil {
		return fmt.Errorf("reset failure count: %w", err)
	}
	if err := connections.UpdateLastSynced(ctx, cal.ConnectionID, now); err != nil {
		return fmt.Errorf("stamp connection: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	p.log.Debug("applied sync result",
		zap.String("calendar_id", cal.ID.String()),
		zap.Int("upserted", len(kept)),
		zap.Int("fetched", len(res.Events)),
		zap.Bool("full_sync", res.FullSync))
	return nil
}

func storedEvent(cal *store.Calendar, ev calendar.Event) *store.CalendarEvent {
	calID := cal.ID
	return &store.CalendarEvent{
		ConnectionID:   cal.ConnectionID,
		CalendarID:     &calID,
		UserID:         cal.UserID,
		ExternalID:     ev.ExternalID,
		Title:          ev.Title,
		Description:    nullable(ev.Description),
		StartTime:      ev.Start,
		EndTime:        ev.End,
		IsAllDay:       ev.IsAllDay,
		Attendees:      ev.Attendees,
		OrganizerEmail: nullable(ev.Organizer),
		IsRecurring:    ev.IsRecurring,
		ResponseStatus: nullable(ev.ResponseStatus),
		Transparency:   nullable(ev.Transparency),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
