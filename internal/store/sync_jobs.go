package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Job types and statuses.
const (
	JobInitialSync      = "initial_sync"
	JobExpandWatermarks = "expand_watermarks"

	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job priorities: user-initiated work preempts background ticks.
const (
	PriorityUser       = 10
	PriorityBackground = 0
)

// SyncJob is one unit of calendar sync work.
type SyncJob struct {
	ID            uuid.UUID
	CalendarID    uuid.UUID
	JobType       string
	TargetMinDate time.Time
	TargetMaxDate time.Time
	Status        string
	Priority      int
	CreatedAt     time.Time
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
	ErrorMessage  *string
	ClaimedBy     *string
	Attempts      int
	RunAfter      time.Time
}

// SyncJobStore is the durable job queue.
type SyncJobStore struct {
	pool *pgxpool.Pool
}

// NewSyncJobStore creates the queue store.
func NewSyncJobStore(pool *pgxpool.Pool) *SyncJobStore {
	return &SyncJobStore{pool: pool}
}

const jobColumns = `id, calendar_id, job_type, target_min_date, target_max_date,
	status, priority, created_at, claimed_at, completed_at, error_message, claimed_by,
	attempts, run_after`

// Enqueue adds a job, coalescing with overlapping or adjacent pending
// jobs for the same calendar: the surviving job covers the union of the
// ranges and keeps the higher priority. Runs in its own transaction so
// concurrent enqueues serialize on the row locks.
func (s *SyncJobStore) Enqueue(ctx context.Context, calendarID uuid.UUID, jobType string, minDate, maxDate time.Time, priority int) (*SyncJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock pending jobs for this calendar that touch the new range.
	// A one-day gap still coalesces; sync windows are week-granular.
	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+` FROM calendar_sync_jobs
		WHERE calendar_id = $1 AND status = 'pending'
		  AND target_min_date <= $3 + INTERVAL '1 day'
		  AND target_max_date >= $2 - INTERVAL '1 day'
		FOR UPDATE
	`, calendarID, minDate, maxDate)
	if err != nil {
		return nil, err
	}
	overlapping, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	union := coalesceJobs(minDate, maxDate, priority, overlapping)

	if len(union.absorbed) > 0 {
		if _, err := tx.Exec(ctx,
			"DELETE FROM calendar_sync_jobs WHERE id = ANY($1)", union.absorbed); err != nil {
			return nil, err
		}
	}

	job := &SyncJob{}
	err = tx.QueryRow(ctx, `
		INSERT INTO calendar_sync_jobs (calendar_id, job_type, target_min_date, target_max_date, priority)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+jobColumns,
		calendarID, jobType, union.min, union.max, union.priority,
	).Scan(&job.ID, &job.CalendarID, &job.JobType, &job.TargetMinDate, &job.TargetMaxDate,
		&job.Status, &job.Priority, &job.CreatedAt, &job.ClaimedAt, &job.CompletedAt,
		&job.ErrorMessage, &job.ClaimedBy, &job.Attempts, &job.RunAfter)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNext atomically claims the oldest highest-priority pending job
// whose run_after has passed. Returns nil when the queue is empty.
// SKIP LOCKED guarantees exactly one worker observes each job as
// claimable. Per-calendar serialization needs more than the running
// check alone: a concurrent claimant's snapshot can predate an
// uncommitted claim for the same calendar. Locking the calendar row
// inside the claim closes that window; the second claimant skips the
// locked calendar and re-evaluates after the first commits.
func (s *SyncJobStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (*SyncJob, error) {
	job := &SyncJob{}
	err := s.pool.QueryRow(ctx, `
		UPDATE calendar_sync_jobs SET
			status = 'running', claimed_at = $2, claimed_by = $1
		WHERE id = (
			SELECT j.id FROM calendar_sync_jobs j
			JOIN calendars c ON c.id = j.calendar_id
			WHERE j.status = 'pending'
			  AND j.run_after <= $2
			  AND NOT EXISTS (
				SELECT 1 FROM calendar_sync_jobs r
				WHERE r.calendar_id = j.calendar_id AND r.status = 'running'
			  )
			ORDER BY j.priority DESC, j.created_at ASC
			FOR UPDATE OF j, c SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		workerID, now,
	).Scan(&job.ID, &job.CalendarID, &job.JobType, &job.TargetMinDate, &job.TargetMaxDate,
		&job.Status, &job.Priority, &job.CreatedAt, &job.ClaimedAt, &job.CompletedAt,
		&job.ErrorMessage, &job.ClaimedBy, &job.Attempts, &job.RunAfter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// MarkCompleted finishes a job successfully.
func (s *SyncJobStore) MarkCompleted(ctx context.Context, jobID uuid.UUID, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calendar_sync_jobs SET status = 'completed', completed_at = $2
		WHERE id = $1
	`, jobID, now)
	return err
}

// Retry returns a job to pending after a retryable failure, recording
// the attempt and deferring the next claim until runAfter.
func (s *SyncJobStore) Retry(ctx context.Context, jobID uuid.UUID, errMsg string, runAfter time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calendar_sync_jobs SET
			status = 'pending', claimed_at = NULL, claimed_by = NULL,
			error_message = $3, attempts = attempts + 1, run_after = $2
		WHERE id = $1
	`, jobID, runAfter, errMsg)
	return err
}

// MarkFailed finishes a job with an error message.
func (s *SyncJobStore) MarkFailed(ctx context.Context, jobID uuid.UUID, errMsg string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calendar_sync_jobs SET status = 'failed', completed_at = $2, error_message = $3
		WHERE id = $1
	`, jobID, now, errMsg)
	return err
}

// ReleaseExpired returns running jobs whose lease lapsed to pending.
// A crashed worker's claim is reclaimed on the next poll.
func (s *SyncJobStore) ReleaseExpired(ctx context.Context, lease time.Duration, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calendar_sync_jobs SET
			status = 'pending', claimed_at = NULL, claimed_by = NULL
		WHERE status = 'running' AND claimed_at < $1
	`, now.Add(-lease))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListPending returns pending jobs for a calendar, claim order.
func (s *SyncJobStore) ListPending(ctx context.Context, calendarID uuid.UUID) ([]*SyncJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM calendar_sync_jobs
		WHERE calendar_id = $1 AND status = 'pending'
		ORDER BY priority DESC, created_at ASC
	`, calendarID)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// DeleteCompletedBefore prunes the audit trail of old finished jobs.
func (s *SyncJobStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM calendar_sync_jobs
		WHERE status IN ('completed', 'failed') AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// coalescedJob is the surviving work unit after folding overlapping or
// adjacent pending jobs into a new request.
type coalescedJob struct {
	min, max time.Time
	priority int
	absorbed []uuid.UUID
}

// coalesceJobs unions the requested range with every overlapping job,
// keeping the highest priority. The absorbed jobs are deleted and
// replaced by the single union job.
func coalesceJobs(minDate, maxDate time.Time, priority int, overlapping []*SyncJob) coalescedJob {
	c := coalescedJob{min: minDate, max: maxDate, priority: priority}
	for _, job := range overlapping {
		if job.TargetMinDate.Before(c.min) {
			c.min = job.TargetMinDate
		}
		if job.TargetMaxDate.After(c.max) {
			c.max = job.TargetMaxDate
		}
		if job.Priority > c.priority {
			c.priority = job.Priority
		}
		c.absorbed = append(c.absorbed, job.ID)
	}
	return c
}

func collectJobs(rows pgx.Rows) ([]*SyncJob, error) {
	defer rows.Close()
	var jobs []*SyncJob
	for rows.Next() {
		job := &SyncJob{}
		err := rows.Scan(&job.ID, &job.CalendarID, &job.JobType,
			&job.TargetMinDate, &job.TargetMaxDate, &job.Status, &job.Priority,
			&job.CreatedAt, &job.ClaimedAt, &job.CompletedAt,
			&job.ErrorMessage, &job.ClaimedBy, &job.Attempts, &job.RunAfter)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
