// Package service contains the business logic layer.
//
// This file implements the payment service: price quotes, gateway checkout,
// invoice settlement and Telegram Stars payments.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/billing"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/metrics"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/worker"
	"github.com/jackc/pgx/v5"
)

// =============================================================================
// Interface Definition
// =============================================================================

// PaymentService sells plan periods.
type PaymentService interface {
	// Quote checks eligibility and returns the price the user would pay.
	// Returns ECONFLICT for an active plan or a period mismatch on upgrade.
	Quote(ctx context.Context, userID int64, plan domain.PlanKey, period domain.Period) (*Quote, error)

	// Checkout creates a gateway invoice for the quoted price and queues its
	// settlement. Returns ENOTIMPL when the gateway is not configured.
	Checkout(ctx context.Context, userID int64, plan domain.PlanKey, period domain.Period, gateway domain.Gateway) (*CheckoutResult, error)

	// SettleInvoice closes a pending invoice. A paid invoice activates its
	// plan and is recorded in the ledger. Settling a closed invoice is a
	// no-op reported with Applied false.
	SettleInvoice(ctx context.Context, invoiceID string, paid bool) (*SettleResult, error)

	// RecordStarsPayment activates the plan named by a "stars:<plan>:<period>"
	// payload after Telegram confirms the payment.
	RecordStarsPayment(ctx context.Context, userID int64, payload string, totalStars int64, chargeID string) (*Activation, error)
}

// Quote is an eligible purchase and its price.
type Quote struct {
	Plan   domain.PlanKey    `json:"plan"`
	Period domain.Period     `json:"period"`
	Base   domain.Price      `json:"base"`
	Price  domain.PriceQuote `json:"price"`
}

// CheckoutResult is a created invoice.
type CheckoutResult struct {
	InvoiceID string            `json:"invoice_id"`
	Gateway   domain.Gateway    `json:"gateway"`
	PayURL    string            `json:"pay_url"`
	Price     domain.PriceQuote `json:"price"`
}

// SettleResult reports what SettleInvoice did.
type SettleResult struct {
	Invoice    *domain.Invoice `json:"-"`
	Applied    bool            `json:"applied"`
	Activation *Activation     `json:"activation,omitempty"`
}

// Activation is an applied plan and its ledger row.
type Activation struct {
	UserID        int64          `json:"user_id"`
	Plan          domain.PlanKey `json:"plan"`
	Period        domain.Period  `json:"period"`
	ExpiresAt     *time.Time     `json:"expires_at"`
	TransactionID int64          `json:"transaction_id"`
}

// =============================================================================
// Implementation
// =============================================================================

type paymentService struct {
	uow      *UnitOfWork
	gateways billing.Gateways
	logger   *slog.Logger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(uow *UnitOfWork, gateways billing.Gateways, logger *slog.Logger) PaymentService {
	return &paymentService{
		uow:      uow,
		gateways: gateways,
		logger:   logger,
	}
}

// =============================================================================
// Quote
// =============================================================================

func (s *paymentService) Quote(ctx context.Context, userID int64, plan domain.PlanKey, period domain.Period) (*Quote, error) {
	const op = "payment.quote"

	var quote *Quote
	err := s.uow.RunCreate(ctx, op, userID, func(_ repository.Querier, user *domain.User, now time.Time) error {
		sub := &user.Subscription
		domain.Resolve(sub, now)

		if err := domain.CheckPurchase(sub, plan, period, now); err != nil {
			return withOp(err, op)
		}
		base, ok := domain.BasePrice(plan, period)
		if !ok {
			return domain.Invalid(op, "plan is not sold for this period")
		}
		quote = &Quote{
			Plan:   plan,
			Period: period,
			Base:   base,
			Price:  domain.EffectivePrice(plan, period, base, sub, now),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// withOp stamps op on a shared sentinel without mutating it.
func withOp(err error, op string) error {
	var e *domain.Error
	if errors.As(err, &e) && e.Op == "" {
		return &domain.Error{Code: e.Code, Op: op, Message: e.Message, Err: err}
	}
	return err
}

// =============================================================================
// Checkout
// =============================================================================

func (s *paymentService) Checkout(ctx context.Context, userID int64, plan domain.PlanKey, period domain.Period, gateway domain.Gateway) (*CheckoutResult, error) {
	const op = "payment.checkout"

	gw, err := s.gateways.Get(gateway)
	if err != nil {
		return nil, &domain.Error{Code: domain.ENOTIMPL, Op: op, Message: "payment method is not available", Err: err}
	}

	quote, err := s.Quote(ctx, userID, plan, period)
	if err != nil {
		return nil, err
	}
	if quote.Price.USD == nil || !quote.Price.USD.IsPositive() {
		return nil, domain.Invalid(op, "plan has no USD price for this period")
	}
	amount := *quote.Price.USD

	// The gateway call happens without the user lock held.
	created, err := gw.CreateInvoice(ctx, billing.NewInvoiceRequest(userID, plan, period, amount))
	if err != nil {
		metrics.Payment(domain.MethodFor(gateway), "error")
		return nil, &domain.Error{Code: domain.EPAYMENT, Op: op, Message: "payment gateway is unavailable", Err: err}
	}

	inv := &domain.Invoice{
		ID:         created.ID,
		Gateway:    gateway,
		UserID:     userID,
		Plan:       plan,
		Period:     period,
		AmountUSD:  &amount,
		Discounted: quote.Price.DiscountApplied,
		PayURL:     created.PayURL,
		Status:     domain.InvoicePending,
		CreatedAt:  s.uow.Now(),
	}
	err = s.uow.Repo().InTx(ctx, func(q repository.Querier) error {
		if err := q.CreateInvoice(ctx, inv); err != nil {
			return err
		}
		_, err := worker.EnqueueSettleInvoice(ctx, q, inv.ID, gateway)
		return err
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to save invoice")
	}

	metrics.Payment(domain.MethodFor(gateway), "created")
	s.logger.Info("invoice created",
		"user_id", userID,
		"invoice_id", inv.ID,
		"gateway", gateway,
		"plan", plan,
		"period", period,
		"amount_usd", amount.StringFixed(2),
		"discounted", inv.Discounted,
	)

	return &CheckoutResult{
		InvoiceID: inv.ID,
		Gateway:   gateway,
		PayURL:    inv.PayURL,
		Price:     quote.Price,
	}, nil
}

// =============================================================================
// Settlement
// =============================================================================

func (s *paymentService) SettleInvoice(ctx context.Context, invoiceID string, paid bool) (*SettleResult, error) {
	const op = "payment.settle_invoice"

	repo := s.uow.Repo()
	inv, err := repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "invoice", invoiceID)
		}
		return nil, domain.Internal(err, op, "failed to load invoice")
	}
	if inv.IsSettled() {
		return &SettleResult{Invoice: inv}, nil
	}
	method := domain.MethodFor(inv.Gateway)

	if !paid {
		var changed bool
		err := repo.InTx(ctx, func(q repository.Querier) error {
			var err error
			changed, err = q.MarkInvoiceSettled(ctx, invoiceID, domain.InvoiceFailed, s.uow.Now())
			return err
		})
		if err != nil {
			return nil, domain.Internal(err, op, "failed to close invoice")
		}
		if changed {
			inv.Status = domain.InvoiceFailed
			metrics.Payment(method, "failed")
			s.logger.Info("invoice closed unpaid", "invoice_id", invoiceID, "user_id", inv.UserID)
		}
		return &SettleResult{Invoice: inv}, nil
	}

	var activation *Activation
	err = s.uow.Run(ctx, op, inv.UserID, func(q repository.Querier, user *domain.User, now time.Time) error {
		changed, err := q.MarkInvoiceSettled(ctx, invoiceID, domain.InvoicePaid, now)
		if err != nil {
			return domain.Internal(err, op, "failed to settle invoice")
		}
		if !changed {
			return nil
		}
		inv.Status = domain.InvoicePaid
		inv.SettledAt = &now

		activation, err = applyAndRecord(ctx, q, op, user, inv.Plan, inv.Period, now, &domain.PaymentTransaction{
			AmountStars: inv.AmountStars,
			AmountUSD:   inv.AmountUSD,
			Method:      method,
			Details:     "invoice " + invoiceID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if activation == nil {
		return &SettleResult{Invoice: inv}, nil
	}

	metrics.Payment(method, "paid")
	metrics.SubscriptionActivated(inv.Plan, inv.Period, metrics.SourcePurchase)
	if inv.Discounted {
		metrics.UpgradeDiscountsTotal.Inc()
	}
	s.logger.Info("invoice paid",
		"invoice_id", invoiceID,
		"user_id", inv.UserID,
		"plan", inv.Plan,
		"period", inv.Period,
	)
	return &SettleResult{Invoice: inv, Applied: true, Activation: activation}, nil
}

func (s *paymentService) RecordStarsPayment(ctx context.Context, userID int64, payload string, totalStars int64, chargeID string) (*Activation, error) {
	const op = "payment.record_stars"

	plan, period, err := domain.ParseStarsPayload(payload)
	if err != nil {
		return nil, withOp(err, op)
	}
	if totalStars < 0 {
		return nil, domain.Invalid(op, "total amount must not be negative")
	}

	details := ""
	if chargeID != "" {
		details = "charge " + chargeID
	}

	var activation *Activation
	err = s.uow.Run(ctx, op, userID, func(q repository.Querier, user *domain.User, now time.Time) error {
		var err error
		activation, err = applyAndRecord(ctx, q, op, user, plan, period, now, &domain.PaymentTransaction{
			AmountStars: &totalStars,
			Method:      domain.MethodStars,
			Details:     details,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Payment(domain.MethodStars, "paid")
	metrics.SubscriptionActivated(plan, period, metrics.SourceStars)
	s.logger.Info("stars payment recorded",
		"user_id", userID,
		"plan", plan,
		"period", period,
		"amount_stars", totalStars,
	)
	return activation, nil
}

// applyAndRecord applies plan to the locked user and appends tx to the
// ledger. Both happen in the caller's transaction.
func applyAndRecord(ctx context.Context, q repository.Querier, op string, user *domain.User, plan domain.PlanKey, period domain.Period, now time.Time, tx *domain.PaymentTransaction) (*Activation, error) {
	applied := domain.ApplySubscription(&user.Subscription, plan, period, now)

	tx.UserID = user.ID
	tx.Plan = applied.Key
	tx.Period = user.Subscription.Period
	tx.Status = domain.TransactionCompleted
	tx.CreatedAt = now
	if tx.AmountUSD != nil {
		usd := tx.AmountUSD.Round(2)
		tx.AmountUSD = &usd
	}

	id, err := q.CreatePaymentTransaction(ctx, tx)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to record payment")
	}

	return &Activation{
		UserID:        user.ID,
		Plan:          applied.Key,
		Period:        user.Subscription.Period,
		ExpiresAt:     user.Subscription.ExpiresAt,
		TransactionID: id,
	}, nil
}
