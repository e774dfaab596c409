// Package repotest provides an in-memory repository.Repository for service,
// worker and handler tests.
package repotest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type messageID struct {
	owner int64
	key   domain.MessageKey
}

// Store keeps every table in maps. Transactions are serialized and roll
// back by restoring a copy of the maps taken when they began.
type Store struct {
	// Now is the database clock used for job scheduling. Defaults to time.Now.
	Now func() time.Time

	// FailOn makes the named method return the given error.
	FailOn map[string]error

	// PingErr is returned by Ping.
	PingErr error

	txMu sync.Mutex
	mu   sync.Mutex

	users        map[int64]domain.User
	messages     map[messageID]domain.CachedMessage
	invoices     map[string]domain.Invoice
	transactions []domain.PaymentTransaction
	jobs         map[uuid.UUID]repository.Job
	nextTxID     int64
}

var _ repository.Repository = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		Now:      time.Now,
		FailOn:   make(map[string]error),
		users:    make(map[int64]domain.User),
		messages: make(map[messageID]domain.CachedMessage),
		invoices: make(map[string]domain.Invoice),
		jobs:     make(map[uuid.UUID]repository.Job),
	}
}

type snapshot struct {
	users        map[int64]domain.User
	messages     map[messageID]domain.CachedMessage
	invoices     map[string]domain.Invoice
	transactions []domain.PaymentTransaction
	jobs         map[uuid.UUID]repository.Job
	nextTxID     int64
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		users:        make(map[int64]domain.User, len(s.users)),
		messages:     make(map[messageID]domain.CachedMessage, len(s.messages)),
		invoices:     make(map[string]domain.Invoice, len(s.invoices)),
		transactions: append([]domain.PaymentTransaction(nil), s.transactions...),
		jobs:         make(map[uuid.UUID]repository.Job, len(s.jobs)),
		nextTxID:     s.nextTxID,
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.messages {
		snap.messages[k] = v
	}
	for k, v := range s.invoices {
		snap.invoices[k] = v
	}
	for k, v := range s.jobs {
		snap.jobs[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = snap.users
	s.messages = snap.messages
	s.invoices = snap.invoices
	s.transactions = snap.transactions
	s.jobs = snap.jobs
	s.nextTxID = snap.nextTxID
}

// InTx implements repository.Repository.
func (s *Store) InTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := s.fail("InTx"); err != nil {
		return err
	}
	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Ping implements repository.Repository.
func (s *Store) Ping(ctx context.Context) error {
	return s.PingErr
}

func (s *Store) fail(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FailOn[method]
}

func notFound(op string) error {
	return fmt.Errorf("%s: %w", op, pgx.ErrNoRows)
}

// =============================================================================
// Test helpers
// =============================================================================

// PutUser stores u as is.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// User returns the stored user with id.
func (s *Store) User(id int64) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

// PutMessage stores m as is.
func (s *Store) PutMessage(m domain.CachedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[messageID{m.OwnerID, m.Key}] = m
}

// Message returns the stored message, ignoring expiry.
func (s *Store) Message(ownerID int64, key domain.MessageKey) (domain.CachedMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID{ownerID, key}]
	return m, ok
}

// MessageCount returns the number of stored messages.
func (s *Store) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// PutInvoice stores inv as is.
func (s *Store) PutInvoice(inv domain.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = inv
}

// Invoice returns the stored invoice with id.
func (s *Store) Invoice(id string) (domain.Invoice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	return inv, ok
}

// Transactions returns the ledger in insertion order.
func (s *Store) Transactions() []domain.PaymentTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PaymentTransaction(nil), s.transactions...)
}

// Jobs returns every job, oldest first.
func (s *Store) Jobs() []repository.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]repository.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })
	return jobs
}

// Job returns the job with id.
func (s *Store) Job(id uuid.UUID) (repository.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// =============================================================================
// Users
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	if err := s.fail("GetUser"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("get user")
	}
	return &u, nil
}

func (s *Store) GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error) {
	if err := s.fail("GetUserForUpdate"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("get user for update")
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if err := s.fail("CreateUser"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return nil
	}
	stored := *u
	stored.Language = languageOrDefault(stored.Language)
	stored.Subscription = domain.NewSubscriptionState()
	stored.UpdatedAt = stored.CreatedAt
	s.users[u.ID] = stored
	return nil
}

func (s *Store) UpsertUserProfile(ctx context.Context, p domain.ProfileUpdateParams, now time.Time) (*domain.User, error) {
	if err := s.fail("UpsertUserProfile"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[p.UserID]
	if !ok {
		u = *domain.NewUser(p.UserID, now)
		u.Language = languageOrDefault(p.Language)
	}
	if p.Username != "" {
		u.Username = p.Username
	}
	if p.FullName != "" {
		u.FullName = p.FullName
	}
	if p.Language != "" {
		u.Language = p.Language
	}
	u.UpdatedAt = now
	u.LastSeenAt = &now
	s.users[p.UserID] = u
	return &u, nil
}

func (s *Store) SaveSubscription(ctx context.Context, userID int64, sub domain.SubscriptionState, now time.Time) error {
	if err := s.fail("SaveSubscription"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return notFound("save subscription")
	}
	u.Subscription = sub
	u.UpdatedAt = now
	s.users[userID] = u
	return nil
}

func (s *Store) SetUserBanned(ctx context.Context, id int64, banned bool, now time.Time) error {
	if err := s.fail("SetUserBanned"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("set user banned")
	}
	u.IsBanned = banned
	u.UpdatedAt = now
	s.users[id] = u
	return nil
}

func languageOrDefault(lang string) string {
	if lang == "" {
		return "en"
	}
	return lang
}

// =============================================================================
// Cached messages
// =============================================================================

func (s *Store) UpsertCachedMessage(ctx context.Context, m *domain.CachedMessage) error {
	if err := s.fail("UpsertCachedMessage"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := messageID{m.OwnerID, m.Key}
	stored := *m
	if prev, ok := s.messages[id]; ok {
		stored.CreatedAt = prev.CreatedAt
		if stored.MediaKey == "" {
			stored.MediaKey = prev.MediaKey
		}
	}
	s.messages[id] = stored
	return nil
}

func (s *Store) GetCachedMessage(ctx context.Context, ownerID int64, key domain.MessageKey) (*domain.CachedMessage, error) {
	if err := s.fail("GetCachedMessage"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID{ownerID, key}]
	if !ok {
		return nil, notFound("get cached message")
	}
	return &m, nil
}

func (s *Store) UpdateCachedMessageContent(ctx context.Context, ownerID int64, key domain.MessageKey, content string) error {
	if err := s.fail("UpdateCachedMessageContent"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := messageID{ownerID, key}
	if m, ok := s.messages[id]; ok {
		m.Content = content
		s.messages[id] = m
	}
	return nil
}

func (s *Store) SetCachedMessageMedia(ctx context.Context, ownerID int64, key domain.MessageKey, mediaKey string) error {
	if err := s.fail("SetCachedMessageMedia"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := messageID{ownerID, key}
	m, ok := s.messages[id]
	if !ok {
		return notFound("set cached message media")
	}
	m.MediaKey = mediaKey
	s.messages[id] = m
	return nil
}

func (s *Store) DeleteCachedMessage(ctx context.Context, ownerID int64, key domain.MessageKey) error {
	if err := s.fail("DeleteCachedMessage"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, messageID{ownerID, key})
	return nil
}

func (s *Store) DeleteExpiredMessages(ctx context.Context, now time.Time, limit int) ([]repository.PurgedMessage, error) {
	if err := s.fail("DeleteExpiredMessages"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []domain.CachedMessage
	for _, m := range s.messages {
		if m.IsExpired(now) {
			expired = append(expired, m)
		}
	}
	sort.Slice(expired, func(a, b int) bool { return expired[a].ExpiresAt.Before(*expired[b].ExpiresAt) })
	if len(expired) > limit {
		expired = expired[:limit]
	}

	var purged []repository.PurgedMessage
	for _, m := range expired {
		delete(s.messages, messageID{m.OwnerID, m.Key})
		purged = append(purged, repository.PurgedMessage{OwnerID: m.OwnerID, Key: m.Key, MediaKey: m.MediaKey})
	}
	return purged, nil
}

// =============================================================================
// Invoices and payments
// =============================================================================

func (s *Store) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	if err := s.fail("CreateInvoice"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[inv.ID]; ok {
		return fmt.Errorf("create invoice: duplicate id %q", inv.ID)
	}
	s.invoices[inv.ID] = *inv
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	if err := s.fail("GetInvoice"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, notFound("get invoice")
	}
	return &inv, nil
}

func (s *Store) GetInvoiceForUpdate(ctx context.Context, id string) (*domain.Invoice, error) {
	if err := s.fail("GetInvoiceForUpdate"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, notFound("get invoice for update")
	}
	return &inv, nil
}

func (s *Store) MarkInvoiceSettled(ctx context.Context, id string, status domain.InvoiceStatus, now time.Time) (bool, error) {
	if err := s.fail("MarkInvoiceSettled"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok || inv.Status != domain.InvoicePending {
		return false, nil
	}
	inv.Status = status
	inv.SettledAt = &now
	s.invoices[id] = inv
	return true, nil
}

func (s *Store) CreatePaymentTransaction(ctx context.Context, t *domain.PaymentTransaction) (int64, error) {
	if err := s.fail("CreatePaymentTransaction"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTxID++
	stored := *t
	stored.ID = s.nextTxID
	s.transactions = append(s.transactions, stored)
	return stored.ID, nil
}

// =============================================================================
// Jobs
// =============================================================================

func (s *Store) EnqueueJob(ctx context.Context, p repository.EnqueueJobParams) (repository.Job, error) {
	if err := s.fail("EnqueueJob"); err != nil {
		return repository.Job{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	scheduled := p.ScheduledAt
	if scheduled.IsZero() {
		scheduled = now
	}
	j := repository.Job{
		ID:          uuid.New(),
		JobType:     p.JobType,
		Payload:     append([]byte(nil), p.Payload...),
		Status:      repository.JobStatusPending,
		Priority:    p.Priority,
		MaxAttempts: p.MaxAttempts,
		ScheduledAt: scheduled,
		CreatedAt:   now,
	}
	s.jobs[j.ID] = j
	return j, nil
}

func (s *Store) DequeueJob(ctx context.Context) (repository.Job, error) {
	if err := s.fail("DequeueJob"); err != nil {
		return repository.Job{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	var (
		next  repository.Job
		found bool
	)
	for _, j := range s.jobs {
		if j.Status != repository.JobStatusPending || j.ScheduledAt.After(now) {
			continue
		}
		if !found || j.Priority > next.Priority ||
			(j.Priority == next.Priority && j.ScheduledAt.Before(next.ScheduledAt)) {
			next, found = j, true
		}
	}
	if !found {
		return repository.Job{}, pgx.ErrNoRows
	}
	return next, nil
}

func (s *Store) UpdateJobStarted(ctx context.Context, id uuid.UUID) error {
	if err := s.fail("UpdateJobStarted"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	now := s.Now()
	j.Status = repository.JobStatusRunning
	j.StartedAt = &now
	j.Attempts++
	s.jobs[id] = j
	return nil
}

func (s *Store) UpdateJobCompleted(ctx context.Context, id uuid.UUID) error {
	if err := s.fail("UpdateJobCompleted"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	now := s.Now()
	j.Status = repository.JobStatusCompleted
	j.CompletedAt = &now
	j.ErrorMessage = nil
	s.jobs[id] = j
	return nil
}

func (s *Store) UpdateJobFailed(ctx context.Context, p repository.UpdateJobFailedParams) error {
	if err := s.fail("UpdateJobFailed"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[p.ID]
	if !ok {
		return nil
	}
	now := s.Now()
	msg := p.ErrorMessage
	j.ErrorMessage = &msg
	if p.Permanent || j.Attempts >= j.MaxAttempts {
		j.Status = repository.JobStatusFailed
		j.CompletedAt = &now
	} else {
		backoff := 30 * time.Second * time.Duration(math.Pow(2, float64(j.Attempts-1)))
		j.Status = repository.JobStatusPending
		j.CompletedAt = nil
		j.ScheduledAt = now.Add(backoff)
	}
	s.jobs[p.ID] = j
	return nil
}

func (s *Store) RecoverStaleJobs(ctx context.Context, thresholdSeconds float64) (int64, error) {
	if err := s.fail("RecoverStaleJobs"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.Now().Add(-time.Duration(thresholdSeconds * float64(time.Second)))
	var n int64
	for id, j := range s.jobs {
		if j.Status == repository.JobStatusRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			j.Status = repository.JobStatusPending
			j.StartedAt = nil
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *Store) HasOpenJob(ctx context.Context, jobType string) (bool, error) {
	if err := s.fail("HasOpenJob"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.JobType == jobType && (j.Status == repository.JobStatusPending || j.Status == repository.JobStatusRunning) {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// Stats
// =============================================================================

func (s *Store) GetStats(ctx context.Context, now time.Time) (*domain.Stats, error) {
	if err := s.fail("GetStats"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.Stats{UsersByTier: make(map[domain.PlanKey]int64)}
	for _, u := range s.users {
		sub := u.Subscription
		tier := sub.Tier
		if tier != domain.PlanFree && sub.ExpiresAt != nil && !sub.ExpiresAt.After(now) {
			tier = domain.PlanFree
		}
		stats.UsersByTier[tier]++
		if sub.HasActivePaidPlan(now) {
			stats.ActiveSubscriptions++
		}
		if u.IsBanned {
			stats.BannedUsers++
		}
	}

	since := now.Add(-30 * 24 * time.Hour)
	revenue := decimal.Zero
	for _, t := range s.transactions {
		if t.IsManual || t.CreatedAt.Before(since) {
			continue
		}
		stats.Payments30d++
		if t.AmountStars != nil {
			stats.RevenueStars30d += *t.AmountStars
		}
		if t.AmountUSD != nil {
			revenue = revenue.Add(*t.AmountUSD)
		}
	}
	stats.RevenueUSD30d = revenue
	return stats, nil
}
