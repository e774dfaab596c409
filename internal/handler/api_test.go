package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/billing"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/middleware"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository/repotest"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/service"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/storage"
	"github.com/stripe/stripe-go/v79"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

const testAdminID int64 = 9

// =============================================================================
// Fixtures
// =============================================================================

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStorage) Put(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return nil
}

func (m *memStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStorage) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "https://media.example/" + key, nil
}

type stubGateway struct {
	n int
}

func (g *stubGateway) Name() domain.Gateway { return domain.GatewayCryptoBot }

func (g *stubGateway) CreateInvoice(ctx context.Context, req billing.InvoiceRequest) (billing.Invoice, error) {
	g.n++
	id := fmt.Sprintf("inv-%d", g.n)
	return billing.Invoice{ID: id, PayURL: "https://pay.example/" + id}, nil
}

func (g *stubGateway) PollStatus(ctx context.Context, invoiceID string) (billing.Status, error) {
	return billing.StatusPending, nil
}

// stubVerifier accepts the signature "valid" and returns event.
type stubVerifier struct {
	event stripe.Event
}

func (v *stubVerifier) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	if signature != "valid" {
		return stripe.Event{}, errors.New("bad signature")
	}
	return v.event, nil
}

type testAPI struct {
	mux      *http.ServeMux
	store    *repotest.Store
	verifier *stubVerifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := discardLogger()
	store := repotest.New()
	uow := service.NewUnitOfWork(store, func() time.Time { return testNow })

	media := &memStorage{objects: make(map[string][]byte)}
	gateways := billing.NewGateways(&stubGateway{})

	subs := service.NewSubscriptionService(uow, logger)
	payments := service.NewPaymentService(uow, gateways, logger)
	messages := service.NewMessageService(uow, media, service.MessageConfig{MaxMediaSize: 1024}, logger)
	admin := service.NewAdminService(uow, logger)

	verifier := &stubVerifier{}
	admins := middleware.NewAdminMiddleware([]int64{testAdminID}, logger)

	mux := http.NewServeMux()
	NewHealthHandler(store, logger).RegisterRoutes(mux)
	NewUserHandler(subs, payments, nil, logger).RegisterRoutes(mux)
	NewMessageHandler(messages, 1024, logger).RegisterRoutes(mux)
	NewAdminHandler(admin, logger).RegisterRoutes(mux, admins.RequireAdmin)
	NewWebhookHandler(verifier, payments, logger).RegisterRoutes(mux)

	return &testAPI{mux: mux, store: store, verifier: verifier}
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) putUser(plan domain.PlanKey, period domain.Period, id int64) {
	u := domain.NewUser(id, testNow)
	u.Subscription.Tier = plan
	u.Subscription.Period = period
	if plan != domain.PlanFree {
		expires := testNow.Add(48 * time.Hour)
		u.Subscription.ExpiresAt = &expires
	}
	a.store.PutUser(*u)
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

// =============================================================================
// Health
// =============================================================================

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	expectStatus(t, api.do(t, "GET", "/health", ""), http.StatusOK)

	api.store.PingErr = errors.New("connection refused")
	expectStatus(t, api.do(t, "GET", "/health", ""), http.StatusServiceUnavailable)
}

// =============================================================================
// Users
// =============================================================================

func TestUpdateProfile(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, "PUT", "/v1/users/5", `{"username":"ann","full_name":"Ann","language":"ru"}`)
	expectStatus(t, rec, http.StatusOK)
	got := decode[userResponse](t, rec)
	if got.Username != "ann" || got.Language != "ru" || got.Plan != domain.PlanFree {
		t.Errorf("unexpected user: %+v", got)
	}

	expectStatus(t, api.do(t, "PUT", "/v1/users/abc", `{}`), http.StatusBadRequest)
	expectStatus(t, api.do(t, "PUT", "/v1/users/5", `{"nickname":"x"}`), http.StatusBadRequest)
	expectStatus(t, api.do(t, "PUT", "/v1/users/5", ``), http.StatusBadRequest)
}

func TestSubscriptionSnapshot(t *testing.T) {
	api := newTestAPI(t)
	api.putUser(domain.PlanPro, domain.PeriodMonth, 5)

	rec := api.do(t, "GET", "/v1/users/5/subscription", "")
	expectStatus(t, rec, http.StatusOK)
	got := decode[struct {
		Plan struct {
			Key string `json:"key"`
		} `json:"plan"`
		ExpiresAt *time.Time `json:"expires_at"`
	}](t, rec)
	if got.Plan.Key != "pro" || got.ExpiresAt == nil {
		t.Errorf("unexpected snapshot: %s", rec.Body.String())
	}
}

func TestConsume(t *testing.T) {
	api := newTestAPI(t)
	api.putUser(domain.PlanFree, domain.PeriodNone, 5)

	for i := 0; i < 3; i++ {
		rec := api.do(t, "POST", "/v1/users/5/quota/media/consume", "")
		expectStatus(t, rec, http.StatusOK)
		if res := decode[domain.ConsumeResult](t, rec); !res.Allowed {
			t.Fatalf("consume %d denied", i+1)
		}
	}

	// A denial is still a 200.
	rec := api.do(t, "POST", "/v1/users/5/quota/media/consume", "")
	expectStatus(t, rec, http.StatusOK)
	res := decode[domain.ConsumeResult](t, rec)
	if res.Allowed || res.Reason != domain.ReasonMonthlyLimit {
		t.Errorf("expected monthly denial, got %+v", res)
	}

	expectStatus(t, api.do(t, "POST", "/v1/users/5/quota/storage/consume", ""), http.StatusBadRequest)
}

func TestQuote(t *testing.T) {
	api := newTestAPI(t)
	api.putUser(domain.PlanLite, domain.PeriodMonth, 5)

	rec := api.do(t, "GET", "/v1/users/5/quote?plan=pro&period=month", "")
	expectStatus(t, rec, http.StatusOK)
	got := decode[struct {
		Price struct {
			Stars           int64  `json:"stars"`
			USD             string `json:"usd"`
			DiscountApplied bool   `json:"discount_applied"`
		} `json:"price"`
	}](t, rec)
	usdOK := got.Price.USD == "3.2" || got.Price.USD == "3.20"
	if got.Price.Stars != 410 || !usdOK || !got.Price.DiscountApplied {
		t.Errorf("unexpected quote: %s", rec.Body.String())
	}

	rec = api.do(t, "GET", "/v1/users/5/quote?plan=pro&period=week", "")
	expectStatus(t, rec, http.StatusConflict)

	rec = api.do(t, "GET", "/v1/users/5/quote?plan=gold", "")
	expectStatus(t, rec, http.StatusBadRequest)
	fields := decode[JSONError](t, rec).Error.Fields
	if _, ok := fields["plan"]; !ok {
		t.Errorf("expected plan field error, got %v", fields)
	}
	if _, ok := fields["period"]; !ok {
		t.Errorf("expected period field error, got %v", fields)
	}
}

func TestCheckout(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, "POST", "/v1/users/5/checkout", `{"plan":"lite","period":"week","gateway":"cryptobot"}`)
	expectStatus(t, rec, http.StatusCreated)
	got := decode[service.CheckoutResult](t, rec)
	if got.InvoiceID != "inv-1" || got.PayURL == "" {
		t.Errorf("unexpected checkout: %+v", got)
	}
	if _, ok := api.store.Invoice("inv-1"); !ok {
		t.Error("invoice was not saved")
	}

	rec = api.do(t, "POST", "/v1/users/5/checkout", `{"plan":"lite","period":"week","gateway":"stripe"}`)
	expectStatus(t, rec, http.StatusNotImplemented)

	rec = api.do(t, "POST", "/v1/users/5/checkout", `{"plan":"lite","period":"year","gateway":"cryptobot"}`)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestCheckout_RateLimited(t *testing.T) {
	logger := discardLogger()
	store := repotest.New()
	uow := service.NewUnitOfWork(store, func() time.Time { return testNow })
	payments := service.NewPaymentService(uow, billing.NewGateways(&stubGateway{}), logger)
	limiter := middleware.NewRateLimiter(1, time.Minute)
	limit := middleware.NewRateLimitMiddleware(limiter, middleware.ByPathValue("id"), logger)

	mux := http.NewServeMux()
	NewUserHandler(service.NewSubscriptionService(uow, logger), payments, limit.Limit, logger).RegisterRoutes(mux)

	post := func(id string) int {
		req := httptest.NewRequest("POST", "/v1/users/"+id+"/checkout",
			strings.NewReader(`{"plan":"lite","period":"week","gateway":"cryptobot"}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post("5"); code != http.StatusCreated {
		t.Fatalf("first checkout = %d", code)
	}
	if code := post("5"); code != http.StatusTooManyRequests {
		t.Errorf("second checkout = %d, want 429", code)
	}
	if code := post("6"); code != http.StatusCreated {
		t.Errorf("other user = %d, want 201", code)
	}
}

func TestStarsPayment(t *testing.T) {
	api := newTestAPI(t)
	api.putUser(domain.PlanFree, domain.PeriodNone, 5)

	rec := api.do(t, "POST", "/v1/users/5/payments/stars",
		`{"invoice_payload":"stars:pro:month","total_amount":499,"telegram_payment_charge_id":"ch"}`)
	expectStatus(t, rec, http.StatusOK)
	act := decode[service.Activation](t, rec)
	if act.Plan != domain.PlanPro || act.TransactionID == 0 {
		t.Errorf("unexpected activation: %+v", act)
	}

	rec = api.do(t, "POST", "/v1/users/5/payments/stars", `{"invoice_payload":"stars:pro","total_amount":499}`)
	expectStatus(t, rec, http.StatusBadRequest)
}

// =============================================================================
// Messages
// =============================================================================

func TestMessageLifecycle(t *testing.T) {
	api := newTestAPI(t)
	api.putUser(domain.PlanLite, domain.PeriodMonth, 5)

	rec := api.do(t, "POST", "/v1/owners/5/messages",
		`{"chat_id":77,"message_id":1,"sender_id":8,"sender_name":"Bob","type":"photo","content":"file","ttl_seconds":10}`)
	expectStatus(t, rec, http.StatusOK)
	cached := decode[domain.CacheResult](t, rec)
	if cached.Outcome != domain.CacheStored || !cached.Capture {
		t.Fatalf("unexpected cache result: %s", rec.Body.String())
	}

	png := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
	req := httptest.NewRequest("PUT", "/v1/owners/5/messages/77/1/media", bytes.NewReader(png))
	mrec := httptest.NewRecorder()
	api.mux.ServeHTTP(mrec, req)
	expectStatus(t, mrec, http.StatusCreated)

	rec = api.do(t, "POST", "/v1/owners/5/messages/77/1/edited", `{"new_text":"caption","editor_id":8}`)
	expectStatus(t, rec, http.StatusOK)
	edited := decode[struct {
		Previous *struct {
			Content  string `json:"content"`
			HasMedia bool   `json:"has_media"`
		} `json:"previous"`
		NewText string `json:"new_text"`
	}](t, rec)
	if edited.Previous == nil || edited.Previous.Content != "file" || !edited.Previous.HasMedia || edited.NewText != "caption" {
		t.Errorf("unexpected edit report: %s", rec.Body.String())
	}

	rec = api.do(t, "POST", "/v1/owners/5/messages/77/1/deleted", "")
	expectStatus(t, rec, http.StatusOK)
	deleted := decode[struct {
		MediaURL string `json:"media_url"`
	}](t, rec)
	if !strings.HasPrefix(deleted.MediaURL, "https://media.example/media/5/77_1") {
		t.Errorf("unexpected media url %q", deleted.MediaURL)
	}

	expectStatus(t, api.do(t, "POST", "/v1/owners/5/messages/77/1/deleted", ""), http.StatusNotFound)
}

func TestAttachMedia_TooLarge(t *testing.T) {
	api := newTestAPI(t)
	api.putUser(domain.PlanLite, domain.PeriodMonth, 5)

	req := httptest.NewRequest("PUT", "/v1/owners/5/messages/77/1/media", bytes.NewReader(make([]byte, 2048)))
	rec := httptest.NewRecorder()
	api.mux.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusRequestEntityTooLarge)
}

func TestCacheMessage_Validation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, "POST", "/v1/owners/5/messages", `{"chat_id":77,"message_id":1,"type":"hologram"}`)
	expectStatus(t, rec, http.StatusBadRequest)
	if _, ok := decode[JSONError](t, rec).Error.Fields["type"]; !ok {
		t.Errorf("expected type field error: %s", rec.Body.String())
	}

	expectStatus(t, api.do(t, "POST", "/v1/owners/5/messages/x/1/edited", `{"editor_id":1}`), http.StatusBadRequest)
}

// =============================================================================
// Admin
// =============================================================================

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	api.putUser(domain.PlanFree, domain.PeriodNone, 5)
	admin := []string{middleware.AdminHeader, fmt.Sprint(testAdminID)}

	expectStatus(t, api.do(t, "GET", "/v1/admin/stats", ""), http.StatusUnauthorized)
	expectStatus(t, api.do(t, "GET", "/v1/admin/stats", "", middleware.AdminHeader, "5"), http.StatusForbidden)

	rec := api.do(t, "POST", "/v1/admin/users/5/grant", `{"plan":"pro","period":"forever"}`, admin...)
	expectStatus(t, rec, http.StatusOK)
	if act := decode[service.Activation](t, rec); act.Plan != domain.PlanPro || act.ExpiresAt != nil {
		t.Errorf("unexpected grant: %+v", act)
	}
	txs := api.store.Transactions()
	if len(txs) != 1 || txs[0].InitiatorID == nil || *txs[0].InitiatorID != testAdminID {
		t.Errorf("grant not recorded with initiator: %+v", txs)
	}

	expectStatus(t, api.do(t, "POST", "/v1/admin/users/5/grant", `{"plan":"free","period":"week"}`, admin...), http.StatusBadRequest)

	expectStatus(t, api.do(t, "POST", "/v1/admin/users/5/ban", "", admin...), http.StatusOK)
	expectStatus(t, api.do(t, "POST", "/v1/admin/users/5/ban", "", admin...), http.StatusConflict)
	expectStatus(t, api.do(t, "POST", "/v1/admin/users/5/unban", "", admin...), http.StatusOK)
	expectStatus(t, api.do(t, "POST", "/v1/admin/users/404/ban", "", admin...), http.StatusNotFound)

	rec = api.do(t, "GET", "/v1/admin/stats", "", admin...)
	expectStatus(t, rec, http.StatusOK)
	stats := decode[domain.Stats](t, rec)
	if stats.UsersByTier[domain.PlanPro] != 1 || stats.Payments30d != 0 {
		t.Errorf("unexpected stats: %s", rec.Body.String())
	}
}

// =============================================================================
// Stripe webhook
// =============================================================================

func sessionEvent(eventType, sessionJSON string) stripe.Event {
	return stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(sessionJSON)},
	}
}

func TestStripeWebhook(t *testing.T) {
	api := newTestAPI(t)
	api.putUser(domain.PlanFree, domain.PeriodNone, 5)
	api.store.PutInvoice(domain.Invoice{
		ID:        "cs_1",
		Gateway:   domain.GatewayStripe,
		UserID:    5,
		Plan:      domain.PlanLite,
		Period:    domain.PeriodWeek,
		Status:    domain.InvoicePending,
		CreatedAt: testNow,
	})

	api.verifier.event = sessionEvent("checkout.session.completed", `{"id":"cs_1","payment_status":"paid","status":"complete"}`)

	expectStatus(t, api.do(t, "POST", "/webhooks/stripe", `{}`, "Stripe-Signature", "forged"), http.StatusBadRequest)

	expectStatus(t, api.do(t, "POST", "/webhooks/stripe", `{}`, "Stripe-Signature", "valid"), http.StatusOK)
	inv, _ := api.store.Invoice("cs_1")
	if inv.Status != domain.InvoicePaid {
		t.Fatalf("invoice status = %s, want paid", inv.Status)
	}
	u, _ := api.store.User(5)
	if u.Subscription.Tier != domain.PlanLite {
		t.Errorf("tier = %s, want lite", u.Subscription.Tier)
	}

	// Redelivery is a no-op.
	expectStatus(t, api.do(t, "POST", "/webhooks/stripe", `{}`, "Stripe-Signature", "valid"), http.StatusOK)
	if n := len(api.store.Transactions()); n != 1 {
		t.Errorf("transactions = %d, want 1", n)
	}
}

func TestStripeWebhook_Expired(t *testing.T) {
	api := newTestAPI(t)
	api.putUser(domain.PlanFree, domain.PeriodNone, 5)
	api.store.PutInvoice(domain.Invoice{ID: "cs_2", Gateway: domain.GatewayStripe, UserID: 5,
		Plan: domain.PlanPro, Period: domain.PeriodMonth, Status: domain.InvoicePending, CreatedAt: testNow})

	api.verifier.event = sessionEvent("checkout.session.expired", `{"id":"cs_2","payment_status":"unpaid","status":"expired"}`)
	expectStatus(t, api.do(t, "POST", "/webhooks/stripe", `{}`, "Stripe-Signature", "valid"), http.StatusOK)

	inv, _ := api.store.Invoice("cs_2")
	if inv.Status != domain.InvoiceFailed {
		t.Errorf("invoice status = %s, want failed", inv.Status)
	}
}

func TestStripeWebhook_IgnoredEvents(t *testing.T) {
	api := newTestAPI(t)

	api.verifier.event = sessionEvent("customer.created", `{"id":"cus_1"}`)
	expectStatus(t, api.do(t, "POST", "/webhooks/stripe", `{}`, "Stripe-Signature", "valid"), http.StatusOK)

	api.verifier.event = sessionEvent("checkout.session.completed", `{"id":"cs_unknown","payment_status":"paid"}`)
	expectStatus(t, api.do(t, "POST", "/webhooks/stripe", `{}`, "Stripe-Signature", "valid"), http.StatusOK)

	mux := http.NewServeMux()
	NewWebhookHandler(nil, nil, discardLogger()).RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(`{}`)))
	expectStatus(t, rec, http.StatusOK)
}
