// Package handler contains the HTTP handlers of the bot API.
//
// This file implements the Stripe webhook handler for Checkout sessions.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no API token) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/billing"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/service"
	"github.com/stripe/stripe-go/v79"
)

// WebhookVerifier checks a Stripe signature and returns the event.
type WebhookVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)
}

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	verifier WebhookVerifier
	payments service.PaymentService
	logger   *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// verifier may be nil when Stripe is not configured.
func NewWebhookHandler(verifier WebhookVerifier, payments service.PaymentService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		payments: payments,
		logger:   logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// The route sits outside /v1 and carries no API token; the Stripe signature authenticates it.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook settles the invoice of a Checkout session event. A 5xx
// makes Stripe deliver the event again.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		h.logger.Warn("stripe webhook received but stripe is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Read body (limit to 64KB)
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := h.verifier.VerifyWebhookSignature(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	session, ok, err := billing.ParseSessionEvent(event)
	if err != nil {
		h.logger.Error("failed to parse checkout session", "error", err, "event_id", event.ID)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !ok {
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	var paid bool
	switch session.Status {
	case billing.StatusPaid:
		paid = true
	case billing.StatusExpired, billing.StatusCancelled:
		paid = false
	default:
		// Async payment still in flight; a later event settles it.
		w.WriteHeader(http.StatusOK)
		return
	}

	res, err := h.payments.SettleInvoice(r.Context(), session.SessionID, paid)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			h.logger.Warn("webhook for unknown checkout session", "session_id", session.SessionID)
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Error("failed to settle checkout session", "error", err, "session_id", session.SessionID)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.logger.Info("checkout session settled",
		"session_id", session.SessionID,
		"paid", paid,
		"applied", res.Applied,
	)
	w.WriteHeader(http.StatusOK)
}
