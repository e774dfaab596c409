package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository"
)

// Job types. They must match the JobHandler.Type() values.
const (
	JobTypeSettleInvoice = "settle_invoice"
	JobTypePurgeExpired  = "purge_expired_messages"
	JobTypeDeleteMedia   = "delete_media"
)

// Priority constants for job scheduling
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// SettleInvoicePayload is the payload of settle_invoice jobs.
type SettleInvoicePayload struct {
	InvoiceID string         `json:"invoice_id"`
	Gateway   domain.Gateway `json:"gateway"`
}

// PurgeExpiredPayload is the payload of purge_expired_messages jobs.
type PurgeExpiredPayload struct {
	BatchSize int `json:"batch_size"`
}

// DeleteMediaPayload is the payload of delete_media jobs.
type DeleteMediaPayload struct {
	Key string `json:"key"`
}

// Enqueuer is the part of the repository that inserts jobs. Both the
// repository and a transaction's Querier satisfy it.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, params repository.EnqueueJobParams) (repository.Job, error)
}

// EnqueueOption customizes the enqueued job.
type EnqueueOption func(*repository.EnqueueJobParams)

// WithPriority sets the job priority.
func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.Priority = priority
	}
}

// WithMaxAttempts sets how many times the job may run.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.MaxAttempts = attempts
	}
}

// WithDelay schedules the job to run after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.ScheduledAt = p.ScheduledAt.Add(delay)
	}
}

// EnqueueJob marshals payload and inserts a job of jobType. Jobs default to
// normal priority, three attempts, and are due immediately.
func EnqueueJob(ctx context.Context, q Enqueuer, jobType string, payload any, opts ...EnqueueOption) (repository.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	params := repository.EnqueueJobParams{
		JobType:     jobType,
		Payload:     payloadJSON,
		Priority:    PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&params)
	}

	job, err := q.EnqueueJob(ctx, params)
	if err != nil {
		return repository.Job{}, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return job, nil
}

// EnqueueSettleInvoice enqueues the polling job for a freshly created invoice.
func EnqueueSettleInvoice(ctx context.Context, q Enqueuer, invoiceID string, gateway domain.Gateway, opts ...EnqueueOption) (repository.Job, error) {
	payload := SettleInvoicePayload{
		InvoiceID: invoiceID,
		Gateway:   gateway,
	}
	opts = append([]EnqueueOption{WithPriority(PriorityHigh)}, opts...)
	return EnqueueJob(ctx, q, JobTypeSettleInvoice, payload, opts...)
}

// EnqueuePurgeExpired enqueues one purge of expired cached messages.
func EnqueuePurgeExpired(ctx context.Context, q Enqueuer, batchSize int, opts ...EnqueueOption) (repository.Job, error) {
	payload := PurgeExpiredPayload{BatchSize: batchSize}
	opts = append([]EnqueueOption{WithPriority(PriorityLow), WithMaxAttempts(1)}, opts...)
	return EnqueueJob(ctx, q, JobTypePurgeExpired, payload, opts...)
}

// EnqueueDeleteMedia enqueues removal of a stored media object after delay.
func EnqueueDeleteMedia(ctx context.Context, q Enqueuer, key string, delay time.Duration, opts ...EnqueueOption) (repository.Job, error) {
	payload := DeleteMediaPayload{Key: key}
	opts = append([]EnqueueOption{WithPriority(PriorityLow), WithDelay(delay)}, opts...)
	return EnqueueJob(ctx, q, JobTypeDeleteMedia, payload, opts...)
}
