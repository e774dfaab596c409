// Package jobs contains the background job handlers run by the worker.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/billing"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/service"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/worker"
	"github.com/jackc/pgx/v5"
)

// InvoiceReader loads invoices.
type InvoiceReader interface {
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
}

// Settler closes invoices.
type Settler interface {
	SettleInvoice(ctx context.Context, invoiceID string, paid bool) (*service.SettleResult, error)
}

// PollConfig controls how long an invoice is polled.
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// SettleInvoiceHandler polls the gateway of a pending invoice until it is
// paid, closed or the poll window elapses, then settles it.
type SettleInvoiceHandler struct {
	invoices InvoiceReader
	payments Settler
	gateways billing.Gateways
	poll     PollConfig
	logger   *slog.Logger
}

// NewSettleInvoiceHandler creates a new handler for settle_invoice jobs.
func NewSettleInvoiceHandler(
	invoices InvoiceReader,
	payments Settler,
	gateways billing.Gateways,
	poll PollConfig,
	logger *slog.Logger,
) *SettleInvoiceHandler {
	return &SettleInvoiceHandler{
		invoices: invoices,
		payments: payments,
		gateways: gateways,
		poll:     poll,
		logger:   logger,
	}
}

// Type returns the job type identifier.
func (h *SettleInvoiceHandler) Type() string {
	return worker.JobTypeSettleInvoice
}

// Handle executes the settlement job.
func (h *SettleInvoiceHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.SettleInvoicePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}

	// 1. Skip invoices a webhook or an earlier attempt already closed
	inv, err := h.invoices.GetInvoice(ctx, p.InvoiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return worker.NewPermanentError(fmt.Errorf("invoice not found: %w", err))
		}
		return fmt.Errorf("fetch invoice: %w", err)
	}
	if inv.IsSettled() {
		h.logger.Info("Invoice already settled", "invoice_id", p.InvoiceID, "status", inv.Status)
		return nil
	}

	gw, err := h.gateways.Get(p.Gateway)
	if err != nil {
		return worker.NewPermanentError(err)
	}

	// 2. Poll the gateway
	h.logger.Info("Polling invoice",
		"invoice_id", p.InvoiceID,
		"gateway", p.Gateway,
		"user_id", inv.UserID,
	)
	paid, err := billing.PollUntilPaid(ctx, gw, p.InvoiceID, h.poll.Interval, h.poll.Timeout, h.logger)
	if err != nil {
		// Cancelled mid-poll. The retry polls again.
		return fmt.Errorf("poll invoice: %w", err)
	}

	// 3. Settle
	res, err := h.payments.SettleInvoice(ctx, p.InvoiceID, paid)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return worker.NewPermanentError(err)
		}
		return fmt.Errorf("settle invoice: %w", err)
	}

	h.logger.Info("Invoice settled",
		"invoice_id", p.InvoiceID,
		"paid", paid,
		"applied", res.Applied,
	)
	return nil
}
