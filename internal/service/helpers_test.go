package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/billing"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository/repotest"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/storage"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestUnit(t *testing.T) (*UnitOfWork, *repotest.Store, *testClock) {
	t.Helper()
	store := repotest.New()
	clock := &testClock{now: testNow}
	return NewUnitOfWork(store, clock.Now), store, clock
}

// putUser stores a user on plan, created at testNow.
func putUser(store *repotest.Store, id int64, plan domain.PlanKey, period domain.Period, expiresAt *time.Time) {
	u := domain.NewUser(id, testNow)
	u.Subscription.Tier = plan
	u.Subscription.Period = period
	u.Subscription.ExpiresAt = expiresAt
	store.PutUser(*u)
}

func at(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, domain.ErrorCode(err), "error: %v", err)
}

// memStorage is an in-memory storage.Storage.
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (m *memStorage) Put(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	if m.putErr != nil {
		return m.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = buf.Bytes()
	return nil
}

func (m *memStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStorage) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return "", storage.ErrNotFound
	}
	return "mem://" + key, nil
}

func (m *memStorage) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// fakeGateway creates sequential invoices.
type fakeGateway struct {
	name domain.Gateway
	err  error

	mu       sync.Mutex
	requests []billing.InvoiceRequest
}

func (g *fakeGateway) Name() domain.Gateway { return g.name }

func (g *fakeGateway) CreateInvoice(ctx context.Context, req billing.InvoiceRequest) (billing.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return billing.Invoice{}, g.err
	}
	g.requests = append(g.requests, req)
	id := fmt.Sprintf("%s-%d", g.name, len(g.requests))
	return billing.Invoice{ID: id, PayURL: "https://pay.example/" + id}, nil
}

func (g *fakeGateway) PollStatus(ctx context.Context, invoiceID string) (billing.Status, error) {
	return billing.StatusPending, nil
}

// pngBytes is a valid PNG header followed by padding.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)
