package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/sony/gobreaker/v2"
)

// DefaultCryptoBotURL is the public Crypto Pay API base.
const DefaultCryptoBotURL = "https://pay.crypt.bot/api/"

// CryptoBotConfig configures the CryptoBot client.
type CryptoBotConfig struct {
	Token   string
	Asset   string
	BaseURL string

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
}

// CryptoBot is a Gateway backed by the Crypto Pay API. Every call goes
// through a circuit breaker so that an unavailable API fails fast.
type CryptoBot struct {
	token   string
	asset   string
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// NewCryptoBot returns a CryptoBot gateway, or ErrNotConfigured when the
// token is empty.
func NewCryptoBot(cfg CryptoBotConfig, logger *slog.Logger) (*CryptoBot, error) {
	if cfg.Token == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Asset == "" {
		cfg.Asset = "USDT"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCryptoBotURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	c := &CryptoBot{
		token:   cfg.Token,
		asset:   cfg.Asset,
		baseURL: cfg.BaseURL,
		client:  cfg.HTTPClient,
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "cryptobot",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// Name implements Gateway.
func (c *CryptoBot) Name() domain.Gateway {
	return domain.GatewayCryptoBot
}

type cryptoBotResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

type cryptoBotInvoice struct {
	InvoiceID int64  `json:"invoice_id"`
	Status    string `json:"status"`
	PayURL    string `json:"pay_url"`
	// Newer API versions return bot_invoice_url alongside pay_url.
	BotInvoiceURL string `json:"bot_invoice_url"`
}

// CreateInvoice implements Gateway.
func (c *CryptoBot) CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error) {
	body, err := json.Marshal(map[string]string{
		"asset":       c.asset,
		"amount":      req.AmountUSD.StringFixed(2),
		"description": req.Description,
		"payload":     req.Payload,
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("cryptobot create invoice: %w", err)
	}

	result, err := c.call(ctx, http.MethodPost, "createInvoice", nil, body)
	if err != nil {
		return Invoice{}, fmt.Errorf("cryptobot create invoice: %w", err)
	}

	var inv cryptoBotInvoice
	if err := json.Unmarshal(result, &inv); err != nil {
		return Invoice{}, fmt.Errorf("cryptobot create invoice: decode result: %w", err)
	}
	payURL := inv.PayURL
	if payURL == "" {
		payURL = inv.BotInvoiceURL
	}
	return Invoice{ID: strconv.FormatInt(inv.InvoiceID, 10), PayURL: payURL}, nil
}

// PollStatus implements Gateway. Unknown invoices and unknown statuses are
// reported as pending.
func (c *CryptoBot) PollStatus(ctx context.Context, invoiceID string) (Status, error) {
	result, err := c.call(ctx, http.MethodGet, "getInvoices", url.Values{"invoice_ids": {invoiceID}}, nil)
	if err != nil {
		return StatusPending, fmt.Errorf("cryptobot get invoice: %w", err)
	}

	var page struct {
		Items []cryptoBotInvoice `json:"items"`
	}
	if err := json.Unmarshal(result, &page); err != nil {
		return StatusPending, fmt.Errorf("cryptobot get invoice: decode result: %w", err)
	}
	if len(page.Items) == 0 {
		return StatusPending, nil
	}

	switch Status(page.Items[0].Status) {
	case StatusPaid:
		return StatusPaid, nil
	case StatusExpired:
		return StatusExpired, nil
	case StatusCancelled:
		return StatusCancelled, nil
	default:
		return StatusPending, nil
	}
}

// call performs one API method and returns the "result" member.
func (c *CryptoBot) call(ctx context.Context, method, apiMethod string, query url.Values, body []byte) (json.RawMessage, error) {
	endpoint := c.baseURL + apiMethod
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Crypto-Pay-API-Token", c.token)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("circuit breaker is open: %w", err)
		}
		return nil, err
	}

	var envelope cryptoBotResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !envelope.OK {
		if envelope.Error != nil {
			return nil, fmt.Errorf("api error %d: %s", envelope.Error.Code, envelope.Error.Name)
		}
		return nil, errors.New("api returned ok=false")
	}
	return envelope.Result, nil
}
