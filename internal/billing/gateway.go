// Package billing integrates the external payment gateways used to buy
// subscriptions: CryptoBot invoices and Stripe Checkout sessions.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/shopspring/decimal"
)

// Status is the state of a gateway invoice.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusExpired || s == StatusCancelled
}

// ErrNotConfigured is returned when a gateway has no credentials.
var ErrNotConfigured = errors.New("payment gateway is not configured")

// InvoiceRequest describes what the user is buying.
type InvoiceRequest struct {
	UserID      int64
	Plan        domain.PlanKey
	Period      domain.Period
	AmountUSD   decimal.Decimal
	Description string
	Payload     string
}

// NewInvoiceRequest builds the request for plan and period at amount.
func NewInvoiceRequest(userID int64, plan domain.PlanKey, period domain.Period, amount decimal.Decimal) InvoiceRequest {
	return InvoiceRequest{
		UserID:      userID,
		Plan:        plan,
		Period:      period,
		AmountUSD:   amount,
		Description: Description(plan, period),
		Payload:     domain.CryptoPayload(plan, period, userID),
	}
}

// Description is the human-readable line item for a purchase.
func Description(plan domain.PlanKey, period domain.Period) string {
	name := string(plan)
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return fmt.Sprintf("%s subscription (1 %s)", name, period)
}

// Invoice is what a gateway returns for a created invoice.
type Invoice struct {
	ID     string
	PayURL string
}

// Gateway creates invoices and reports their status.
type Gateway interface {
	Name() domain.Gateway
	CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error)
	PollStatus(ctx context.Context, invoiceID string) (Status, error)
}

// Gateways looks up configured gateways by name.
type Gateways map[domain.Gateway]Gateway

// NewGateways indexes the given gateways, skipping nil entries.
func NewGateways(gws ...Gateway) Gateways {
	m := make(Gateways, len(gws))
	for _, gw := range gws {
		if gw != nil {
			m[gw.Name()] = gw
		}
	}
	return m
}

// Get returns the gateway named name.
func (g Gateways) Get(name domain.Gateway) (Gateway, error) {
	gw, ok := g[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotConfigured)
	}
	return gw, nil
}
