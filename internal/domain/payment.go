// Package domain contains core business types and interfaces.
//
// This file defines invoices created through payment gateways and the
// transaction ledger written on every activation.
package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway names a payment provider.
type Gateway string

const (
	GatewayCryptoBot Gateway = "cryptobot"
	GatewayStripe    Gateway = "stripe"
)

// ParseGateway parses a gateway name.
func ParseGateway(s string) (Gateway, bool) {
	switch g := Gateway(strings.ToLower(strings.TrimSpace(s))); g {
	case GatewayCryptoBot, GatewayStripe:
		return g, true
	default:
		return "", false
	}
}

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceFailed  InvoiceStatus = "failed"
)

// Invoice is a pending or settled gateway payment for one plan and period.
type Invoice struct {
	ID          string
	Gateway     Gateway
	UserID      int64
	Plan        PlanKey
	Period      Period
	AmountStars *int64
	AmountUSD   *decimal.Decimal
	Discounted  bool
	PayURL      string
	Status      InvoiceStatus
	CreatedAt   time.Time
	SettledAt   *time.Time
}

// IsSettled reports whether the invoice has reached a terminal state.
func (i *Invoice) IsSettled() bool {
	return i.Status == InvoicePaid || i.Status == InvoiceFailed
}

// PaymentMethod records how a subscription was obtained.
type PaymentMethod string

const (
	MethodStars     PaymentMethod = "stars"
	MethodCryptoBot PaymentMethod = "cryptobot"
	MethodStripe    PaymentMethod = "stripe"
	MethodManual    PaymentMethod = "manual"
)

// MethodFor returns the ledger method for a gateway.
func MethodFor(g Gateway) PaymentMethod {
	if g == GatewayStripe {
		return MethodStripe
	}
	return MethodCryptoBot
}

// PaymentTransaction is one ledger row.
type PaymentTransaction struct {
	ID          int64
	UserID      int64
	Plan        PlanKey
	Period      Period
	AmountStars *int64
	AmountUSD   *decimal.Decimal
	Method      PaymentMethod
	Status      string
	IsManual    bool
	InitiatorID *int64
	Details     string
	CreatedAt   time.Time
}

// TransactionCompleted is the only status recorded for successful activations.
const TransactionCompleted = "completed"

// =============================================================================
// Invoice payloads
// =============================================================================

// StarsPayload builds the invoice payload for a Telegram Stars purchase.
func StarsPayload(plan PlanKey, period Period) string {
	return "stars:" + string(plan) + ":" + string(period)
}

// ParseStarsPayload parses "stars:<plan>:<period>".
func ParseStarsPayload(payload string) (PlanKey, Period, error) {
	const op = "payment.parse_stars_payload"

	parts := strings.Split(payload, ":")
	if len(parts) != 3 || parts[0] != "stars" {
		return "", PeriodNone, Invalid(op, "malformed stars payload")
	}
	plan, ok := ParsePlanKey(parts[1])
	if !ok || plan == PlanFree {
		return "", PeriodNone, Invalid(op, "unknown plan in stars payload")
	}
	period, ok := ParsePeriod(parts[2])
	if !ok || !period.IsPurchasable() {
		return "", PeriodNone, Invalid(op, "unknown period in stars payload")
	}
	return plan, period, nil
}

// CryptoPayload builds the CryptoBot invoice payload.
func CryptoPayload(plan PlanKey, period Period, userID int64) string {
	return "crypto:" + string(plan) + ":" + string(period) + ":" + strconv.FormatInt(userID, 10)
}

// =============================================================================
// Stats
// =============================================================================

// Stats is the admin dashboard summary.
type Stats struct {
	UsersByTier         map[PlanKey]int64 `json:"users_by_tier"`
	ActiveSubscriptions int64             `json:"active_subscriptions"`
	BannedUsers         int64             `json:"banned_users"`
	Payments30d         int64             `json:"payments_30d"`
	RevenueStars30d     int64             `json:"revenue_stars_30d"`
	RevenueUSD30d       decimal.Decimal   `json:"revenue_usd_30d"`
}
