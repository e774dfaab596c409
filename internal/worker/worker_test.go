package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHandler struct {
	jobType string
	err     error

	mu       sync.Mutex
	payloads [][]byte
}

func (h *fakeHandler) Type() string { return h.jobType }

func (h *fakeHandler) Handle(ctx context.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, payload)
	return h.err
}

func (h *fakeHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.payloads)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.PollInterval = 10 * time.Millisecond
	return cfg
}

func newTestWorker(t *testing.T, store *repotest.Store, handlers ...JobHandler) *Worker {
	t.Helper()
	w, err := New(store, testConfig(), testLogger())
	require.NoError(t, err)
	for _, h := range handlers {
		w.Register(h)
	}
	return w
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", mutate: func(*Config) {}},
		{name: "concurrency too low", mutate: func(c *Config) { c.Concurrency = 0 }, wantErr: true},
		{name: "concurrency too high", mutate: func(c *Config) { c.Concurrency = 101 }, wantErr: true},
		{name: "poll interval too short", mutate: func(c *Config) { c.PollInterval = time.Millisecond }, wantErr: true},
		{name: "job timeout too short", mutate: func(c *Config) { c.JobTimeout = 500 * time.Millisecond }, wantErr: true},
		{name: "shutdown timeout too short", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: true},
		{name: "stale threshold below job timeout", mutate: func(c *Config) { c.StaleJobThreshold = c.JobTimeout }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "permanent error", err: NewPermanentError(context.Canceled), want: true},
		{name: "formatted permanent error", err: Permanentf("invoice %s missing", "42"), want: true},
		{name: "wrapped permanent error", err: errors.Join(errors.New("outer"), NewPermanentError(io.EOF)), want: true},
		{name: "regular error", err: context.Canceled, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunOnce_NoJobs(t *testing.T) {
	w := newTestWorker(t, repotest.New())

	ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestRunOnce_Completes(t *testing.T) {
	store := repotest.New()
	h := &fakeHandler{jobType: JobTypeSettleInvoice}
	w := newTestWorker(t, store, h)

	job, err := EnqueueSettleInvoice(context.Background(), store, "inv-1", domain.GatewayCryptoBot)
	require.NoError(t, err)

	ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	got, ok := store.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, repository.JobStatusCompleted, got.Status)
	assert.Equal(t, int32(1), got.Attempts)

	require.Equal(t, 1, h.calls())
	var payload SettleInvoicePayload
	require.NoError(t, json.Unmarshal(h.payloads[0], &payload))
	assert.Equal(t, SettleInvoicePayload{InvoiceID: "inv-1", Gateway: domain.GatewayCryptoBot}, payload)
}

func TestRunOnce_Failures(t *testing.T) {
	tests := []struct {
		name        string
		handlerErr  error
		jobType     string
		maxAttempts int32
		wantStatus  string
	}{
		{
			name:        "retryable error is rescheduled",
			handlerErr:  errors.New("gateway unavailable"),
			jobType:     JobTypeSettleInvoice,
			maxAttempts: 3,
			wantStatus:  repository.JobStatusPending,
		},
		{
			name:        "permanent error fails immediately",
			handlerErr:  Permanentf("bad payload"),
			jobType:     JobTypeSettleInvoice,
			maxAttempts: 3,
			wantStatus:  repository.JobStatusFailed,
		},
		{
			name:        "last attempt fails",
			handlerErr:  errors.New("gateway unavailable"),
			jobType:     JobTypeSettleInvoice,
			maxAttempts: 1,
			wantStatus:  repository.JobStatusFailed,
		},
		{
			name:        "unknown job type fails",
			jobType:     "unknown",
			maxAttempts: 3,
			wantStatus:  repository.JobStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repotest.New()
			w := newTestWorker(t, store, &fakeHandler{jobType: JobTypeSettleInvoice, err: tt.handlerErr})

			job, err := EnqueueJob(context.Background(), store, tt.jobType, map[string]string{}, WithMaxAttempts(tt.maxAttempts))
			require.NoError(t, err)

			ran, err := w.RunOnce(context.Background())
			require.NoError(t, err)
			require.True(t, ran)

			got, _ := store.Job(job.ID)
			assert.Equal(t, tt.wantStatus, got.Status)
			require.NotNil(t, got.ErrorMessage)
			if tt.wantStatus == repository.JobStatusPending {
				assert.True(t, got.ScheduledAt.After(time.Now()), "retry is delayed")
			}
		})
	}
}

func TestRunOnce_PriorityOrder(t *testing.T) {
	store := repotest.New()
	purge := &fakeHandler{jobType: JobTypePurgeExpired}
	settle := &fakeHandler{jobType: JobTypeSettleInvoice}
	w := newTestWorker(t, store, purge, settle)

	_, err := EnqueuePurgeExpired(context.Background(), store, 100)
	require.NoError(t, err)
	_, err = EnqueueSettleInvoice(context.Background(), store, "inv-1", domain.GatewayStripe)
	require.NoError(t, err)

	ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, 1, settle.calls())
	assert.Equal(t, 0, purge.calls())
}

func TestRunOnce_DequeueError(t *testing.T) {
	store := repotest.New()
	store.FailOn["DequeueJob"] = errors.New("connection reset")
	w := newTestWorker(t, store)

	ran, err := w.RunOnce(context.Background())
	assert.Error(t, err)
	assert.False(t, ran)
}

func TestRun_ProcessesUntilCancelled(t *testing.T) {
	store := repotest.New()
	h := &fakeHandler{jobType: JobTypePurgeExpired}
	w := newTestWorker(t, store, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	job, err := EnqueuePurgeExpired(context.Background(), store, 10)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := store.Job(job.ID)
		return got.Status == repository.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_RecoversStaleJobs(t *testing.T) {
	store := repotest.New()
	job, err := EnqueuePurgeExpired(context.Background(), store, 10)
	require.NoError(t, err)

	// Start the job an hour ago, as a crashed process would have left it.
	store.Now = func() time.Time { return time.Now().Add(-time.Hour) }
	require.NoError(t, store.UpdateJobStarted(context.Background(), job.ID))
	store.Now = time.Now

	w := newTestWorker(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))

	got, _ := store.Job(job.ID)
	assert.Equal(t, repository.JobStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
}

func TestScheduler_Tick(t *testing.T) {
	store := repotest.New()
	s := NewScheduler(store, time.Minute, 250, testLogger())
	ctx := context.Background()

	scheduled, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, scheduled)

	scheduled, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, scheduled, "an open purge suppresses another")

	jobs := store.Jobs()
	require.Len(t, jobs, 1)
	var payload PurgeExpiredPayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
	assert.Equal(t, 250, payload.BatchSize)
	assert.Equal(t, int32(PriorityLow), jobs[0].Priority)

	require.NoError(t, store.UpdateJobCompleted(ctx, jobs[0].ID))
	scheduled, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, scheduled)
}

func TestScheduler_TickError(t *testing.T) {
	store := repotest.New()
	store.FailOn["HasOpenJob"] = errors.New("db down")
	s := NewScheduler(store, time.Minute, 10, testLogger())

	scheduled, err := s.Tick(context.Background())
	assert.Error(t, err)
	assert.False(t, scheduled)
}

func TestEnqueueJob_Options(t *testing.T) {
	store := repotest.New()
	before := time.Now()

	job, err := EnqueueJob(context.Background(), store, JobTypeSettleInvoice, SettleInvoicePayload{InvoiceID: "x"},
		WithPriority(PriorityHigh), WithMaxAttempts(5), WithDelay(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, int32(PriorityHigh), job.Priority)
	assert.Equal(t, int32(5), job.MaxAttempts)
	assert.False(t, job.ScheduledAt.Before(before.Add(time.Minute)))
}

func TestEnqueueJob_MarshalError(t *testing.T) {
	_, err := EnqueueJob(context.Background(), repotest.New(), JobTypeSettleInvoice, make(chan int))
	assert.Error(t, err)
}
