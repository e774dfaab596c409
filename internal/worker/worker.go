// Package worker runs the PostgreSQL-backed job queue: invoice settlement
// polling and the periodic purge of expired cached messages.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/metrics"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository"
	"github.com/jackc/pgx/v5"
)

// Worker pulls due jobs and dispatches them to registered handlers.
type Worker struct {
	repo     repository.Repository
	handlers map[string]JobHandler
	config   Config
	logger   *slog.Logger
}

// New creates a Worker. Register handlers before calling Run.
func New(repo repository.Repository, config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		repo:     repo,
		handlers: make(map[string]JobHandler),
		config:   config,
		logger:   logger,
	}, nil
}

// Register adds a job handler. The handler's Type() must be unique.
func (w *Worker) Register(handler JobHandler) {
	jobType := handler.Type()
	if _, exists := w.handlers[jobType]; exists {
		w.logger.Warn("Overwriting existing handler", "job_type", jobType)
	}
	w.handlers[jobType] = handler
	w.logger.Debug("Registered job handler", "job_type", jobType)
}

// Run processes jobs until ctx is cancelled, then waits up to
// ShutdownTimeout for running jobs before cancelling them. It requeues stale
// jobs once on start. Run always returns nil so it can share an errgroup
// with the HTTP server.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.recoverStaleJobs(ctx); err != nil {
		w.logger.Error("Failed to recover stale jobs", "error", err)
	}

	// Jobs outlive ctx until the shutdown timeout.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	var wg sync.WaitGroup
	for i := 0; i < w.config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.runWorker(ctx, jobCtx, workerID)
		}(i + 1)
	}
	w.logger.Info("Worker started", "concurrency", w.config.Concurrency)

	<-ctx.Done()
	w.logger.Info("Stopping worker...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, cancelling running jobs")
		cancelJobs()
		<-done
	}
	return nil
}

// RunOnce processes at most one due job and reports whether one ran.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	return w.processNextJob(ctx, w.logger)
}

func (w *Worker) recoverStaleJobs(ctx context.Context) error {
	count, err := w.repo.RecoverStaleJobs(ctx, w.config.StaleJobThreshold.Seconds())
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	if count > 0 {
		w.logger.Warn("Recovered stale jobs", "count", count, "threshold", w.config.StaleJobThreshold)
	}
	return nil
}

// runWorker drains due jobs, then sleeps for the poll interval. It stops
// taking new jobs as soon as stop is cancelled.
func (w *Worker) runWorker(stop, jobCtx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("Worker goroutine started")

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		for stop.Err() == nil {
			ran, err := w.processNextJob(jobCtx, logger)
			if err != nil {
				logger.Error("Failed to process job", "error", err)
				break
			}
			if !ran {
				break
			}
		}

		select {
		case <-stop.Done():
			logger.Debug("Worker goroutine stopping")
			return
		case <-ticker.C:
		}
	}
}

// processNextJob claims one due job in a short transaction and runs it
// outside that transaction.
func (w *Worker) processNextJob(ctx context.Context, logger *slog.Logger) (bool, error) {
	var job repository.Job
	err := w.repo.InTx(ctx, func(q repository.Querier) error {
		next, err := q.DequeueJob(ctx)
		if err != nil {
			return err
		}
		if err := q.UpdateJobStarted(ctx, next.ID); err != nil {
			return fmt.Errorf("mark job started: %w", err)
		}
		job = next
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dequeue job: %w", err)
	}

	attempt := job.Attempts + 1
	logger = logger.With("job_id", job.ID, "job_type", job.JobType, "attempt", attempt)
	logger.Info("Processing job")

	metrics.JobStarted(job.JobType)
	if attempt > 1 {
		metrics.JobRetried(job.JobType)
	}
	start := time.Now()

	jobErr := w.executeJob(ctx, job)
	duration := time.Since(start)

	// Bookkeeping must land even when the job context was cancelled.
	bg := context.WithoutCancel(ctx)

	if jobErr != nil {
		metrics.JobFailed(job.JobType, duration)
		logger.Error("Job failed", "error", jobErr, "duration", duration)
		w.markJobFailed(bg, job, jobErr, logger)
		return true, nil
	}

	metrics.JobCompleted(job.JobType, duration)
	logger.Info("Job completed", "duration", duration)
	if err := w.repo.UpdateJobCompleted(bg, job.ID); err != nil {
		return true, fmt.Errorf("update job completed: %w", err)
	}
	return true, nil
}

func (w *Worker) executeJob(ctx context.Context, job repository.Job) error {
	handler, ok := w.handlers[job.JobType]
	if !ok {
		return Permanentf("no handler registered for job type: %s", job.JobType)
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	return handler.Handle(jobCtx, job.Payload)
}

// markJobFailed records the failure. Permanent errors and jobs out of
// attempts end as 'failed'; the rest are rescheduled with backoff.
func (w *Worker) markJobFailed(ctx context.Context, job repository.Job, jobErr error, logger *slog.Logger) {
	permanent := IsPermanent(jobErr)
	if permanent {
		logger.Warn("Job failed with permanent error, will not retry", "error", jobErr)
	}

	params := repository.UpdateJobFailedParams{
		ID:           job.ID,
		ErrorMessage: jobErr.Error(),
		Permanent:    permanent,
	}
	if err := w.repo.UpdateJobFailed(ctx, params); err != nil {
		logger.Error("Failed to mark job as failed", "error", err)
	}
}
