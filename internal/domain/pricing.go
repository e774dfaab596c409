// Package domain contains core business types and interfaces.
//
// This file defines the static price table, purchase eligibility and the
// lite-to-pro upgrade credit.
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// upgradeCredit is the share of the lower tier's same-period price credited
// toward an upgrade.
var upgradeCredit = decimal.RequireFromString("0.9")

// Price is a two-component amount. A nil component is not offered.
type Price struct {
	Stars *int64           `json:"stars"`
	USD   *decimal.Decimal `json:"usd"`
}

// PlanPricing holds the prices of one plan per purchasable period.
type PlanPricing struct {
	Weekly  *Price
	Monthly *Price
}

// For returns the price for period, or nil when the period is not sold.
func (p PlanPricing) For(period Period) *Price {
	switch period {
	case PeriodWeek:
		return p.Weekly
	case PeriodMonth:
		return p.Monthly
	default:
		return nil
	}
}

func price(stars int64, usd string) *Price {
	amount := decimal.RequireFromString(usd)
	return &Price{Stars: &stars, USD: &amount}
}

var pricing = map[PlanKey]PlanPricing{
	PlanFree: {},
	PlanLite: {
		Weekly:  price(29, "0.29"),
		Monthly: price(99, "1.99"),
	},
	PlanPro: {
		Weekly:  price(199, "2.99"),
		Monthly: price(499, "4.99"),
	},
}

// GetPricing returns the price table row for key, falling back to free.
func GetPricing(key PlanKey) PlanPricing {
	if p, ok := pricing[key]; ok {
		return p
	}
	return pricing[DefaultPlan]
}

// BasePrice returns the undiscounted price of key for period.
func BasePrice(key PlanKey, period Period) (Price, bool) {
	p := GetPricing(key).For(period)
	if p == nil {
		return Price{}, false
	}
	return *p, true
}

// =============================================================================
// Purchase eligibility
// =============================================================================

var (
	// ErrAlreadyActive is returned when a user tries to buy while a paid plan
	// is still running and no upgrade applies.
	ErrAlreadyActive = &Error{Code: ECONFLICT, Message: "subscription is already active"}

	// ErrPeriodMismatch is returned when a lite subscriber upgrades to pro with
	// a different billing period than the one they hold.
	ErrPeriodMismatch = &Error{Code: ECONFLICT, Message: "upgrade must keep the current billing period"}
)

// IsUpgradeEligible reports whether buying target counts as an upgrade from
// the user's running lite subscription.
func IsUpgradeEligible(s *SubscriptionState, target PlanKey, now time.Time) bool {
	return target == PlanPro && s.Tier == PlanLite && s.expiresAfter(now)
}

// CheckPurchase reports whether the user may buy target for period at now.
// Call it after Resolve so that expired tiers have been corrected.
func CheckPurchase(s *SubscriptionState, target PlanKey, period Period, now time.Time) error {
	const op = "pricing.check_purchase"

	if !period.IsPurchasable() {
		return Invalid(op, "period must be week or month")
	}
	if _, ok := BasePrice(target, period); !ok {
		return Invalid(op, "plan is not for sale")
	}

	if IsUpgradeEligible(s, target, now) {
		if s.Period != PeriodNone && s.Period != period {
			return ErrPeriodMismatch
		}
		return nil
	}

	if s.HasActivePaidPlan(now) {
		return ErrAlreadyActive
	}
	return nil
}

// IsPurchaseConflict reports whether err is one of the eligibility conflicts.
func IsPurchaseConflict(err error) bool {
	return errors.Is(err, ErrAlreadyActive) || errors.Is(err, ErrPeriodMismatch)
}

// =============================================================================
// Effective price
// =============================================================================

// PriceQuote is the amount a user actually pays.
type PriceQuote struct {
	Stars           *int64           `json:"stars"`
	USD             *decimal.Decimal `json:"usd"`
	DiscountApplied bool             `json:"discount_applied"`
}

// EffectivePrice applies the upgrade credit to base.
//
// The credit applies only to an active lite subscriber buying pro for the
// exact period they hold. Each component is reduced independently by 90% of
// the lite price for that period (stars rounded to a whole unit, USD to
// cents, both half-to-even) and floored at zero. The credit is flat and does
// not depend on time left on the current subscription.
func EffectivePrice(target PlanKey, period Period, base Price, s *SubscriptionState, now time.Time) PriceQuote {
	quote := PriceQuote{Stars: base.Stars, USD: base.USD}

	if s == nil || !IsUpgradeEligible(s, target, now) || s.Period != period {
		return quote
	}
	previous := GetPricing(PlanLite).For(period)
	if previous == nil {
		return quote
	}

	if base.Stars != nil && previous.Stars != nil {
		credit := decimal.NewFromInt(*previous.Stars).Mul(upgradeCredit).RoundBank(0).IntPart()
		stars := *base.Stars - credit
		if stars < 0 {
			stars = 0
		}
		if stars != *base.Stars {
			quote.Stars = &stars
			quote.DiscountApplied = true
		}
	}

	if base.USD != nil && previous.USD != nil {
		credit := previous.USD.Mul(upgradeCredit).RoundBank(2)
		usd := base.USD.Sub(credit).RoundBank(2)
		if usd.IsNegative() {
			usd = decimal.Zero
		}
		if !usd.Equal(*base.USD) {
			quote.USD = &usd
			quote.DiscountApplied = true
		}
	}

	return quote
}
