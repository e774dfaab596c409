package repository

import (
	"context"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/google/uuid"
)

// Querier lists every statement in the package. Lookups that find nothing
// return pgx.ErrNoRows.
type Querier interface {
	// Users
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	UpsertUserProfile(ctx context.Context, params domain.ProfileUpdateParams, now time.Time) (*domain.User, error)
	SaveSubscription(ctx context.Context, userID int64, s domain.SubscriptionState, now time.Time) error
	SetUserBanned(ctx context.Context, id int64, banned bool, now time.Time) error

	// Cached messages
	UpsertCachedMessage(ctx context.Context, m *domain.CachedMessage) error
	GetCachedMessage(ctx context.Context, ownerID int64, key domain.MessageKey) (*domain.CachedMessage, error)
	UpdateCachedMessageContent(ctx context.Context, ownerID int64, key domain.MessageKey, content string) error
	SetCachedMessageMedia(ctx context.Context, ownerID int64, key domain.MessageKey, mediaKey string) error
	DeleteCachedMessage(ctx context.Context, ownerID int64, key domain.MessageKey) error
	DeleteExpiredMessages(ctx context.Context, now time.Time, limit int) ([]PurgedMessage, error)

	// Invoices and payments
	CreateInvoice(ctx context.Context, inv *domain.Invoice) error
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id string) (*domain.Invoice, error)
	MarkInvoiceSettled(ctx context.Context, id string, status domain.InvoiceStatus, now time.Time) (bool, error)
	CreatePaymentTransaction(ctx context.Context, t *domain.PaymentTransaction) (int64, error)

	// Jobs
	EnqueueJob(ctx context.Context, params EnqueueJobParams) (Job, error)
	DequeueJob(ctx context.Context) (Job, error)
	UpdateJobStarted(ctx context.Context, id uuid.UUID) error
	UpdateJobCompleted(ctx context.Context, id uuid.UUID) error
	UpdateJobFailed(ctx context.Context, params UpdateJobFailedParams) error
	RecoverStaleJobs(ctx context.Context, thresholdSeconds float64) (int64, error)
	HasOpenJob(ctx context.Context, jobType string) (bool, error)

	// Stats
	GetStats(ctx context.Context, now time.Time) (*domain.Stats, error)
}
