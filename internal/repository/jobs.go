package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Job statuses.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is a row of the jobs table.
type Job struct {
	ID           uuid.UUID
	JobType      string
	Payload      []byte
	Status       string
	Priority     int32
	Attempts     int32
	MaxAttempts  int32
	ScheduledAt  time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
	CreatedAt    time.Time
}

// EnqueueJobParams are the inputs of EnqueueJob.
type EnqueueJobParams struct {
	JobType     string
	Payload     []byte
	Priority    int32
	MaxAttempts int32
	ScheduledAt time.Time
}

// UpdateJobFailedParams are the inputs of UpdateJobFailed.
type UpdateJobFailedParams struct {
	ID           uuid.UUID
	ErrorMessage string
	Permanent    bool
}

const jobColumns = `id, job_type, payload, status, priority, attempts, max_attempts,
	scheduled_at, started_at, completed_at, error_message, created_at`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID,
		&j.JobType,
		&j.Payload,
		&j.Status,
		&j.Priority,
		&j.Attempts,
		&j.MaxAttempts,
		&j.ScheduledAt,
		&j.StartedAt,
		&j.CompletedAt,
		&j.ErrorMessage,
		&j.CreatedAt,
	)
	return j, err
}

// EnqueueJob inserts a pending job.
func (q *Queries) EnqueueJob(ctx context.Context, p EnqueueJobParams) (Job, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO jobs (job_type, payload, priority, max_attempts, scheduled_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+jobColumns,
		p.JobType, p.Payload, p.Priority, p.MaxAttempts, p.ScheduledAt,
	)
	j, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return j, nil
}

// DequeueJob locks the next due pending job, highest priority first.
// Concurrent workers skip rows locked by each other. It returns
// pgx.ErrNoRows when nothing is due.
func (q *Queries) DequeueJob(ctx context.Context) (Job, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'pending' AND scheduled_at <= NOW()
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)
	return scanJob(row)
}

// UpdateJobStarted marks a job running and counts the attempt.
func (q *Queries) UpdateJobStarted(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE jobs SET status = 'running', started_at = NOW(), attempts = attempts + 1
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update job started: %w", err)
	}
	return nil
}

// UpdateJobCompleted marks a job completed.
func (q *Queries) UpdateJobCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = NOW(), error_message = NULL
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update job completed: %w", err)
	}
	return nil
}

// UpdateJobFailed records a failed attempt. Permanent failures and jobs out
// of attempts become 'failed'; others are rescheduled with exponential
// backoff starting at 30 seconds.
func (q *Queries) UpdateJobFailed(ctx context.Context, p UpdateJobFailedParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE jobs SET
			error_message = $2,
			status = CASE WHEN $3 OR attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
			completed_at = CASE WHEN $3 OR attempts >= max_attempts THEN NOW() ELSE NULL END,
			scheduled_at = CASE WHEN $3 OR attempts >= max_attempts THEN scheduled_at
			               ELSE NOW() + (INTERVAL '30 seconds' * POWER(2, attempts - 1)) END
		WHERE id = $1`,
		p.ID, p.ErrorMessage, p.Permanent,
	)
	if err != nil {
		return fmt.Errorf("update job failed: %w", err)
	}
	return nil
}

// RecoverStaleJobs resets jobs left running longer than the threshold,
// typically by a crashed worker, and returns how many were reset.
func (q *Queries) RecoverStaleJobs(ctx context.Context, thresholdSeconds float64) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE jobs SET status = 'pending', started_at = NULL
		WHERE status = 'running'
		  AND started_at < NOW() - make_interval(secs => $1)`,
		thresholdSeconds,
	)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HasOpenJob reports whether a job of jobType is pending or running.
func (q *Queries) HasOpenJob(ctx context.Context, jobType string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE job_type = $1 AND status IN ('pending', 'running')
		)`, jobType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has open job: %w", err)
	}
	return exists, nil
}
