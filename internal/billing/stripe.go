package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeConfig configures the Stripe Checkout gateway.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string

	// Backend overrides the Stripe API backend. Nil uses the default.
	Backend stripe.Backend
}

// Stripe is a Gateway that sells one-off plan periods through Checkout
// sessions in payment mode.
type Stripe struct {
	sessions      checkoutsession.Client
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewStripe returns a Stripe gateway, or ErrNotConfigured when the secret key
// is empty.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	backend := cfg.Backend
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &Stripe{
		sessions:      checkoutsession.Client{B: backend, Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}, nil
}

// Name implements Gateway.
func (s *Stripe) Name() domain.Gateway {
	return domain.GatewayStripe
}

// CreateInvoice implements Gateway by opening a Checkout session priced in
// USD cents.
func (s *Stripe) CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error) {
	cents := req.AmountUSD.Shift(2).Round(0).IntPart()

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(cents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(strconv.FormatInt(req.UserID, 10)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
	}
	params.Context = ctx
	params.AddMetadata("plan", string(req.Plan))
	params.AddMetadata("period", string(req.Period))
	params.AddMetadata("user_id", strconv.FormatInt(req.UserID, 10))
	params.AddMetadata("payload", req.Payload)

	sess, err := s.sessions.New(params)
	if err != nil {
		return Invoice{}, fmt.Errorf("stripe create checkout session: %w", err)
	}
	return Invoice{ID: sess.ID, PayURL: sess.URL}, nil
}

// PollStatus implements Gateway.
func (s *Stripe) PollStatus(ctx context.Context, sessionID string) (Status, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := s.sessions.Get(sessionID, params)
	if err != nil {
		return StatusPending, fmt.Errorf("stripe get checkout session: %w", err)
	}
	return sessionStatus(sess), nil
}

func sessionStatus(sess *stripe.CheckoutSession) Status {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return StatusPaid
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return StatusExpired
	default:
		return StatusPending
	}
}

// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
func (s *Stripe) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

// SessionEvent is the part of a checkout webhook event the bot acts on.
type SessionEvent struct {
	SessionID string
	Status    Status
}

// ParseSessionEvent extracts the checkout session from a verified event. It
// reports false for event types that carry no checkout session.
func ParseSessionEvent(event stripe.Event) (SessionEvent, bool, error) {
	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
	default:
		return SessionEvent{}, false, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return SessionEvent{}, false, fmt.Errorf("decode checkout session: %w", err)
	}

	status := sessionStatus(&sess)
	if event.Type == "checkout.session.async_payment_failed" {
		status = StatusCancelled
	}
	return SessionEvent{SessionID: sess.ID, Status: status}, true, nil
}
