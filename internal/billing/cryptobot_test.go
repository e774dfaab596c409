package billing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCryptoBot(t *testing.T, h http.HandlerFunc) *CryptoBot {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewCryptoBot(CryptoBotConfig{Token: "tok", BaseURL: srv.URL}, testLogger())
	require.NoError(t, err)
	return c
}

func TestNewCryptoBot_RequiresToken(t *testing.T) {
	_, err := NewCryptoBot(CryptoBotConfig{}, testLogger())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCryptoBot_CreateInvoice(t *testing.T) {
	var got map[string]string
	c := newTestCryptoBot(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/createInvoice", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("Crypto-Pay-API-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Write([]byte(`{"ok":true,"result":{"invoice_id":4521,"status":"active","pay_url":"https://t.me/CryptoBot?start=IVabc"}}`))
	})

	req := NewInvoiceRequest(42, domain.PlanPro, domain.PeriodWeek, decimal.RequireFromString("4.5"))
	inv, err := c.CreateInvoice(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "4521", inv.ID)
	assert.Equal(t, "https://t.me/CryptoBot?start=IVabc", inv.PayURL)
	assert.Equal(t, "USDT", got["asset"])
	assert.Equal(t, "4.50", got["amount"])
	assert.Equal(t, "Pro subscription (1 week)", got["description"])
	assert.Equal(t, req.Payload, got["payload"])
}

func TestCryptoBot_CreateInvoice_APIError(t *testing.T) {
	c := newTestCryptoBot(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error":{"code":400,"name":"AMOUNT_TOO_SMALL"}}`))
	})

	_, err := c.CreateInvoice(context.Background(), NewInvoiceRequest(1, domain.PlanPro, domain.PeriodWeek, decimal.NewFromInt(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMOUNT_TOO_SMALL")
}

func TestCryptoBot_PollStatus(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Status
	}{
		{"paid", `{"ok":true,"result":{"items":[{"invoice_id":1,"status":"paid"}]}}`, StatusPaid},
		{"active", `{"ok":true,"result":{"items":[{"invoice_id":1,"status":"active"}]}}`, StatusPending},
		{"expired", `{"ok":true,"result":{"items":[{"invoice_id":1,"status":"expired"}]}}`, StatusExpired},
		{"unknown status", `{"ok":true,"result":{"items":[{"invoice_id":1,"status":"weird"}]}}`, StatusPending},
		{"no items", `{"ok":true,"result":{"items":[]}}`, StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCryptoBot(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/getInvoices", r.URL.Path)
				assert.Equal(t, "1", r.URL.Query().Get("invoice_ids"))
				w.Write([]byte(tt.body))
			})

			status, err := c.PollStatus(context.Background(), "1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestCryptoBot_PollStatus_NotOK(t *testing.T) {
	c := newTestCryptoBot(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false}`))
	})

	status, err := c.PollStatus(context.Background(), "1")
	assert.Error(t, err)
	assert.Equal(t, StatusPending, status)
}

func TestCryptoBot_ServerErrorTripsBreaker(t *testing.T) {
	calls := 0
	c := newTestCryptoBot(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 10; i++ {
		_, err := c.PollStatus(context.Background(), "1")
		require.Error(t, err)
	}
	assert.Equal(t, 6, calls, "breaker opens after six consecutive failures")
}
