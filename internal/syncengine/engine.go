package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumlife/timeledger/internal/connectors/calendar"
	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/clock"
	"github.com/quantumlife/timeledger/pkg/errs"
)

// refreshLeeway is how close to expiry credentials are refreshed before
// a fetch instead of risking a mid-fetch 401.
const refreshLeeway = 5 * time.Minute

type connectionStore interface {
	GetByIDForSync(ctx context.Context, connID uuid.UUID) (*store.CalendarConnection, error)
	UpdateCredentials(ctx context.Context, connID uuid.UUID, creds store.OAuthCredentials) error
}

type calendarStore interface {
	GetByIDForSync(ctx context.Context, calendarID uuid.UUID) (*store.Calendar, error)
	ListStale(ctx context.Context, staleBefore time.Time, failureThreshold int) ([]*store.Calendar, error)
	ClearSyncToken(ctx context.Context, calendarID uuid.UUID) error
	IncrementSyncFailureCount(ctx context.Context, calendarID uuid.UUID) (int, error)
	MarkNeedsReauth(ctx context.Context, calendarID uuid.UUID) error
}

type jobQueue interface {
	Enqueue(ctx context.Context, calendarID uuid.UUID, jobType string, minDate, maxDate time.Time, priority int) (*store.SyncJob, error)
}

// Persister applies one fetch result as a single atomic unit: events
// upserted, cancellations orphaned, watermarks widened, token saved,
// failure budget reset.
type Persister interface {
	ApplySyncResult(ctx context.Context, cal *store.Calendar, res *calendar.FetchResult, now time.Time) error
}

// Classifier runs classification over freshly ingested events so time
// entries stay downstream of sync without user action.
type Classifier interface {
	ClassifyPending(ctx context.Context, userID uuid.UUID, start, end time.Time) (int, error)
}

// Options carries the engine's tunables.
type Options struct {
	StaleThreshold   time.Duration
	FailureThreshold int
}

// Engine runs calendar sync: it decides, enqueues, and executes jobs
// against the provider connector.
type Engine struct {
	log         *zap.Logger
	clock       clock.Clock
	connector   calendar.Connector
	connections connectionStore
	calendars   calendarStore
	jobs        jobQueue
	persister   Persister
	classifier  Classifier
	opts        Options
}

// NewEngine wires a sync engine.
func NewEngine(log *zap.Logger, clk clock.Clock, connector calendar.Connector,
	connections connectionStore, calendars calendarStore, jobs jobQueue,
	persister Persister, classifier Classifier, opts Options) *Engine {
	return &Engine{
		log:         log,
		clock:       clk,
		connector:   connector,
		connections: connections,
		calendars:   calendars,
		jobs:        jobs,
		persister:   persister,
		classifier:  classifier,
		opts:        opts,
	}
}

// EnsureRange evaluates whether [start, end] needs a sync for cal and,
// if so, enqueues user-priority jobs covering the missing weeks. The
// decision is returned either way so callers can report freshness.
//
// A calendar needing reauthorization gets the decision but no jobs; no
// fetch can succeed until the user reconnects.
func (e *Engine) EnsureRange(ctx context.Context, cal *store.Calendar, start, end time.Time) (Decision, error) {
	now := e.clock.Now()
	d := Decide(cal.MinSyncedDate, cal.MaxSyncedDate, cal.LastSyncedAt, start, end, now, e.opts.StaleThreshold)
	if !d.NeedsSync || cal.NeedsReauth {
		return d, nil
	}

	jobType := store.JobExpandWatermarks
	if d.Reason == ReasonNoSyncedRange {
		jobType = store.JobInitialSync
	}

	for _, run := range weekRuns(d.MissingWeeks) {
		job, err := e.jobs.Enqueue(ctx, cal.ID, jobType, run.min, run.max, store.PriorityUser)
		if err != nil {
			return d, fmt.Errorf("enqueue sync job: %w", err)
		}
		e.log.Info("enqueued sync job",
			zap.String("calendar_id", cal.ID.String()),
			zap.String("job_id", job.ID.String()),
			zap.String("reason", d.Reason),
			zap.Time("min_date", job.TargetMinDate),
			zap.Time("max_date", job.TargetMaxDate))
	}
	return d, nil
}

// BackgroundTick enqueues background-priority refresh jobs for every
// selected calendar whose data has gone stale. Quarantined calendars
// (needs_reauth or exhausted failure budget) never appear here.
func (e *Engine) BackgroundTick(ctx context.Context) error {
	now := e.clock.Now()
	stale, err := e.calendars.ListStale(ctx, now.Add(-e.opts.StaleThreshold), e.opts.FailureThreshold)
	if err != nil {
		return fmt.Errorf("list stale calendars: %w", err)
	}

	for _, cal := range stale {
		var minDate, maxDate time.Time
		jobType := store.JobExpandWatermarks
		if cal.MinSyncedDate != nil && cal.MaxSyncedDate != nil {
			minDate, maxDate = *cal.MinSyncedDate, *cal.MaxSyncedDate
		} else {
			// Never synced: seed with the current week.
			minDate = WeekStart(now)
			maxDate = minDate.AddDate(0, 0, 6)
			jobType = store.JobInitialSync
		}
		if _, err := e.jobs.Enqueue(ctx, cal.ID, jobType, minDate, maxDate, store.PriorityBackground); err != nil {
			return fmt.Errorf("enqueue background job for calendar %s: %w", cal.ID, err)
		}
	}

	if len(stale) > 0 {
		e.log.Info("background tick enqueued refreshes", zap.Int("calendars", len(stale)))
	}
	return nil
}

// RunJob executes one claimed job end to end: credentials, fetch, and
// atomic persistence. The caller marks the job completed or failed.
func (e *Engine) RunJob(ctx context.Context, job *store.SyncJob) error {
	cal, err := e.calendars.GetByIDForSync(ctx, job.CalendarID)
	if err != nil {
		return fmt.Errorf("load calendar: %w", err)
	}
	if cal.NeedsReauth {
		return errs.External(errs.ErrTokenRevoked, "calendar needs reauthorization", nil)
	}

	conn, err := e.connections.GetByIDForSync(ctx, cal.ConnectionID)
	if err != nil {
		return fmt.Errorf("load connection: %w", err)
	}

	creds, err := e.freshCredentials(ctx, conn)
	if err != nil {
		return e.recordFailure(ctx, cal, err)
	}

	target := calendar.EventRange{
		Start: job.TargetMinDate,
		End:   job.TargetMaxDate.AddDate(0, 0, 1), // max date inclusive
	}

	res, err := e.fetch(ctx, cal, creds, target)
	if errors.Is(err, errs.ErrTokenExpired) {
		// Expiry discovered mid-flight: refresh once and retry.
		if creds, err = e.refresh(ctx, conn, creds); err == nil {
			res, err = e.fetch(ctx, cal, creds, target)
		}
	}
	if err != nil {
		return e.recordFailure(ctx, cal, err)
	}

	if err := e.persister.ApplySyncResult(ctx, cal, res, e.clock.Now()); err != nil {
		return fmt.Errorf("persist sync result: %w", err)
	}

	e.classifyFetched(ctx, cal, res)

	e.log.Info("sync job finished",
		zap.String("calendar_id", cal.ID.String()),
		zap.String("job_type", job.JobType),
		zap.Int("events", len(res.Events)),
		zap.Bool("full_sync", res.FullSync))
	return nil
}

// classifyFetched runs rules over the span the fetch touched. Failure
// here does not fail the job: the sync result is already committed,
// and the next rules run repairs classification.
func (e *Engine) classifyFetched(ctx context.Context, cal *store.Calendar, res *calendar.FetchResult) {
	if e.classifier == nil {
		return
	}
	start, end, ok := eventSpan(res.Events)
	if !ok {
		return
	}
	n, err := e.classifier.ClassifyPending(ctx, cal.UserID, start, end)
	if err != nil {
		e.log.Error("classify ingested events",
			zap.String("calendar_id", cal.ID.String()),
			zap.Error(err))
		return
	}
	if n > 0 {
		e.log.Info("classified ingested events",
			zap.String("calendar_id", cal.ID.String()),
			zap.Int("events", n))
	}
}

// eventSpan returns a half-open interval covering the start times of
// the fetched events. Incremental results can land anywhere in the
// calendar, so the fetch range alone is not enough.
func eventSpan(events []calendar.Event) (time.Time, time.Time, bool) {
	var start, end time.Time
	found := false
	for _, ev := range events {
		if ev.IsCancelled {
			continue
		}
		if !found {
			start, end = ev.Start, ev.Start
			found = true
			continue
		}
		if ev.Start.Before(start) {
			start = ev.Start
		}
		if ev.Start.After(end) {
			end = ev.Start
		}
	}
	if !found {
		return time.Time{}, time.Time{}, false
	}
	return start, end.Add(time.Nanosecond), true
}

// fetch prefers the incremental token when the target lies inside the
// synced window; an invalidated token clears and falls back to a full
// window fetch.
func (e *Engine) fetch(ctx context.Context, cal *store.Calendar, creds calendar.Credentials, target calendar.EventRange) (*calendar.FetchResult, error) {
	lastDay := target.End.AddDate(0, 0, -1)
	withinWindow := cal.MinSyncedDate != nil && cal.MaxSyncedDate != nil &&
		!target.Start.Before(*cal.MinSyncedDate) && !lastDay.After(*cal.MaxSyncedDate)

	if cal.SyncToken != nil && withinWindow {
		res, err := e.connector.FetchEventsIncremental(ctx, creds, cal.ExternalID, *cal.SyncToken)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, errs.ErrSyncTokenInvalid) {
			return nil, err
		}
		if clearErr := e.calendars.ClearSyncToken(ctx, cal.ID); clearErr != nil {
			return nil, clearErr
		}
		e.log.Warn("sync token invalidated, falling back to full fetch",
			zap.String("calendar_id", cal.ID.String()))
	}

	return e.connector.FetchEvents(ctx, creds, cal.ExternalID, target)
}

// freshCredentials returns usable token material, refreshing up front
// when expiry is close.
func (e *Engine) freshCredentials(ctx context.Context, conn *store.CalendarConnection) (calendar.Credentials, error) {
	creds := calendar.Credentials{
		AccessToken:  conn.Credentials.AccessToken,
		RefreshToken: conn.Credentials.RefreshToken,
		TokenType:    conn.Credentials.TokenType,
		Expiry:       conn.Credentials.Expiry,
	}
	if !creds.ExpiresWithin(e.clock.Now(), refreshLeeway) {
		return creds, nil
	}
	return e.refresh(ctx, conn, creds)
}

// refresh exchanges the refresh token and reseals the result. A failed
// exchange quarantines every calendar of the connection via reauth.
func (e *Engine) refresh(ctx context.Context, conn *store.CalendarConnection, creds calendar.Credentials) (calendar.Credentials, error) {
	refreshed, err := e.connector.Refresh(ctx, creds)
	if err != nil {
		e.log.Warn("token refresh failed",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err))
		return calendar.Credentials{}, errs.External(errs.ErrTokenRevoked, "token refresh failed", err)
	}
	err = e.connections.UpdateCredentials(ctx, conn.ID, store.OAuthCredentials{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		TokenType:    refreshed.TokenType,
		Expiry:       refreshed.Expiry,
	})
	if err != nil {
		return calendar.Credentials{}, fmt.Errorf("persist refreshed credentials: %w", err)
	}
	return refreshed, nil
}

// recordFailure applies the failure policy to a fetch error: revoked
// tokens flip needs_reauth, everything else spends failure budget.
func (e *Engine) recordFailure(ctx context.Context, cal *store.Calendar, fetchErr error) error {
	if errors.Is(fetchErr, errs.ErrTokenRevoked) {
		if err := e.calendars.MarkNeedsReauth(ctx, cal.ID); err != nil {
			return err
		}
		e.log.Warn("calendar needs reauthorization",
			zap.String("calendar_id", cal.ID.String()))
		return fetchErr
	}

	count, err := e.calendars.IncrementSyncFailureCount(ctx, cal.ID)
	if err != nil {
		return err
	}
	if count >= e.opts.FailureThreshold {
		e.log.Warn("calendar quarantined after repeated sync failures",
			zap.String("calendar_id", cal.ID.String()),
			zap.Int("failures", count))
	} else {
		e.log.Warn("sync fetch failed",
			zap.String("calendar_id", cal.ID.String()),
			zap.Int("failures", count),
			zap.Bool("retryable", errs.Retryable(fetchErr)),
			zap.Error(fetchErr))
	}
	return fetchErr
}

// weekRun is a contiguous block of missing weeks as an inclusive date
// range.
type weekRun struct {
	min, max time.Time
}

// weekRuns groups consecutive Mondays into contiguous ranges so one job
// covers each gap. The queue coalesces further on enqueue.
func weekRuns(weeks []time.Time) []weekRun {
	if len(weeks) == 0 {
		return nil
	}
	runs := []weekRun{{min: weeks[0], max: weeks[0].AddDate(0, 0, 6)}}
	for _, w := range weeks[1:] {
		last := &runs[len(runs)-1]
		if w.Equal(last.max.AddDate(0, 0, 1)) {
			last.max = w.AddDate(0, 0, 6)
			continue
		}
		runs = append(runs, weekRun{min: w, max: w.AddDate(0, 0, 6)})
	}
	return runs
}
