package worker

import (
	"context"
	"log/slog"
	"time"
)

// OpenJobChecker is the part of the repository the Scheduler needs.
type OpenJobChecker interface {
	Enqueuer
	HasOpenJob(ctx context.Context, jobType string) (bool, error)
}

// Scheduler enqueues a purge_expired_messages job every interval unless one
// is already pending or running.
type Scheduler struct {
	repo      OpenJobChecker
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewScheduler returns a Scheduler.
func NewScheduler(repo OpenJobChecker, interval time.Duration, batchSize int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		repo:      repo,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run schedules a purge immediately and then once per interval until ctx
// is cancelled. It always returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Failed to schedule purge", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick enqueues one purge if none is open and reports whether it did.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	open, err := s.repo.HasOpenJob(ctx, JobTypePurgeExpired)
	if err != nil {
		return false, err
	}
	if open {
		s.logger.Debug("Purge already queued")
		return false, nil
	}
	job, err := EnqueuePurgeExpired(ctx, s.repo, s.batchSize)
	if err != nil {
		return false, err
	}
	s.logger.Debug("Purge scheduled", "job_id", job.ID)
	return true, nil
}
