package syncengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/clock"
	"github.com/quantumlife/timeledger/pkg/errs"
)

// completedJobRetention is how long finished jobs stay queryable before
// the scheduler prunes them.
const completedJobRetention = 7 * 24 * time.Hour

// Retry policy for transient and rate-limited fetch failures. The
// delay doubles per attempt from the base, capped at the max; the
// attempt budget is separate from the calendar's failure budget, which
// quarantines on its own schedule.
const (
	maxJobAttempts = 5
	retryBaseDelay = time.Minute
	retryMaxDelay  = time.Hour
)

type workerQueue interface {
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*store.SyncJob, error)
	MarkCompleted(ctx context.Context, jobID uuid.UUID, now time.Time) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, errMsg string, now time.Time) error
	Retry(ctx context.Context, jobID uuid.UUID, errMsg string, runAfter time.Time) error
	ReleaseExpired(ctx context.Context, lease time.Duration, now time.Time) (int, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type jobRunner interface {
	RunJob(ctx context.Context, job *store.SyncJob) error
}

// WorkerOptions carries the polling loop tunables.
type WorkerOptions struct {
	PollInterval   time.Duration
	Lease          time.Duration
	MaxJobsPerTick int
}

// Worker polls the queue and executes claimed jobs. Multiple workers
// may run against the same queue; SKIP LOCKED keeps claims exclusive.
type Worker struct {
	log    *zap.Logger
	clock  clock.Clock
	queue  workerQueue
	runner jobRunner
	opts   WorkerOptions
	id     string
}

// NewWorker creates a worker with a host-scoped identity.
func NewWorker(log *zap.Logger, clk clock.Clock, queue workerQueue, runner jobRunner, opts WorkerOptions) *Worker {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Worker{
		log:    log,
		clock:  clk,
		queue:  queue,
		runner: runner,
		opts:   opts,
		id:     fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
	}
}

// Run polls until ctx is cancelled. Each tick reclaims expired leases,
// then claims and executes up to MaxJobsPerTick jobs concurrently.
// Jobs interrupted by shutdown are marked failed so the record shows
// they did not finish; their ranges are re-enqueued by the next demand.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("sync worker started",
		zap.String("worker_id", w.id),
		zap.Duration("poll_interval", w.opts.PollInterval))

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("sync worker stopping", zap.String("worker_id", w.id))
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	released, err := w.queue.ReleaseExpired(ctx, w.opts.Lease, w.clock.Now())
	if err != nil {
		w.log.Error("release expired leases", zap.Error(err))
	} else if released > 0 {
		w.log.Warn("reclaimed expired job leases", zap.Int("count", released))
	}

	g, gctx := errgroup.WithContext(ctx)
	claimed := 0
	for claimed < w.opts.MaxJobsPerTick {
		job, err := w.queue.ClaimNext(ctx, w.id, w.clock.Now())
		if err != nil {
			w.log.Error("claim job", zap.Error(err))
			break
		}
		if job == nil {
			break
		}
		claimed++
		g.Go(func() error {
			w.execute(gctx, job)
			return nil
		})
	}
	g.Wait()
}

// execute runs one job and records the outcome. Bookkeeping uses a
// detached context so a shutdown mid-job still lands the final status.
func (w *Worker) execute(ctx context.Context, job *store.SyncJob) {
	err := w.runner.RunJob(ctx, job)

	record := context.WithoutCancel(ctx)
	if err == nil {
		if err := w.queue.MarkCompleted(record, job.ID, w.clock.Now()); err != nil {
			w.log.Error("mark job completed", zap.Error(err))
		}
		return
	}

	msg := err.Error()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		msg = "interrupted"
	} else if errs.Retryable(err) && job.Attempts+1 < maxJobAttempts {
		delay := retryDelay(job.Attempts)
		w.log.Warn("sync job will retry",
			zap.String("job_id", job.ID.String()),
			zap.String("calendar_id", job.CalendarID.String()),
			zap.Int("attempt", job.Attempts+1),
			zap.Duration("delay", delay),
			zap.String("error", msg))
		if err := w.queue.Retry(record, job.ID, msg, w.clock.Now().Add(delay)); err != nil {
			w.log.Error("reschedule job", zap.Error(err))
		}
		return
	}
	w.log.Warn("sync job failed",
		zap.String("job_id", job.ID.String()),
		zap.String("calendar_id", job.CalendarID.String()),
		zap.String("error", msg))
	if err := w.queue.MarkFailed(record, job.ID, msg, w.clock.Now()); err != nil {
		w.log.Error("mark job failed", zap.Error(err))
	}
}

// retryDelay is exponential in the attempts already spent, capped.
func retryDelay(attempts int) time.Duration {
	if attempts > 10 {
		return retryMaxDelay
	}
	d := retryBaseDelay << attempts
	if d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}

// Scheduler periodically enqueues background refreshes and prunes old
// finished jobs.
type Scheduler struct {
	log    *zap.Logger
	clock  clock.Clock
	engine *Engine
	queue  workerQueue
	tick   time.Duration
}

// NewScheduler creates the background sync scheduler.
func NewScheduler(log *zap.Logger, clk clock.Clock, engine *Engine, queue workerQueue, tick time.Duration) *Scheduler {
	return &Scheduler{log: log, clock: clk, engine: engine, queue: queue, tick: tick}
}

// Run fires one tick immediately, then on the configured interval,
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.engine.BackgroundTick(ctx); err != nil {
		s.log.Error("background sync tick", zap.Error(err))
	}
	pruned, err := s.queue.DeleteCompletedBefore(ctx, s.clock.Now().Add(-completedJobRetention))
	if err != nil {
		s.log.Error("prune finished jobs", zap.Error(err))
	} else if pruned > 0 {
		s.log.Debug("pruned finished jobs", zap.Int("count", pruned))
	}
}
