package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(max int, window time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(max, window)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("user:1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("user:1") {
		t.Error("4th request should be denied")
	}
	if !rl.Allow("user:2") {
		t.Error("other keys keep their own budget")
	}
}

func TestRateLimiter_WindowRestarts(t *testing.T) {
	rl, clock := newTestLimiter(1, time.Minute)

	rl.Allow("k")
	if rl.Allow("k") {
		t.Fatal("second request should be denied")
	}

	clock.t = clock.t.Add(40 * time.Second)
	if got := rl.TimeUntilReset("k"); got != 20*time.Second {
		t.Errorf("expected 20s until reset, got %v", got)
	}

	clock.t = clock.t.Add(20 * time.Second)
	if !rl.Allow("k") {
		t.Error("request after the window should be allowed")
	}
}

func TestRateLimiter_Prune(t *testing.T) {
	rl, clock := newTestLimiter(1, time.Minute)
	rl.Allow("a")
	clock.t = clock.t.Add(2 * time.Minute)
	rl.Allow("b")

	rl.Prune()

	if _, ok := rl.entries["a"]; ok {
		t.Error("expired entry should be pruned")
	}
	if _, ok := rl.entries["b"]; !ok {
		t.Error("live entry should be kept")
	}
}

func TestRateLimitMiddleware_ByPathValue(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)
	mw := NewRateLimitMiddleware(rl, ByPathValue("id"), discardLogger())

	mux := http.NewServeMux()
	mux.Handle("POST /v1/users/{id}/checkout", mw.Limit(okHandler))

	do := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		return rec
	}

	if rec := do("/v1/users/1/checkout"); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	rec := do("/v1/users/1/checkout")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec := do("/v1/users/2/checkout"); rec.Code != http.StatusOK {
		t.Errorf("other user: expected 200, got %d", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "1.1.1.1, 10.0.0.1"}, "10.0.0.2:1", "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "2.2.2.2"}, "10.0.0.2:1", "2.2.2.2"},
		{"remote", nil, "3.3.3.3:4444", "3.3.3.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
