// Package domain contains core business types and interfaces.
//
// This file defines the static plan catalog: the capabilities and limits of
// each subscription tier.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// PlanKey identifies a subscription tier.
type PlanKey string

const (
	PlanFree PlanKey = "free"
	PlanLite PlanKey = "lite"
	PlanPro  PlanKey = "pro"
)

// DefaultPlan is the tier every new user starts on and every expired or
// unknown tier falls back to.
const DefaultPlan = PlanFree

// ParsePlanKey parses a plan identifier case-insensitively.
// The boolean is false for unknown identifiers.
func ParsePlanKey(s string) (PlanKey, bool) {
	key := PlanKey(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := catalog[key]; ok {
		return key, true
	}
	return "", false
}

// String returns the identifier.
func (k PlanKey) String() string {
	return string(k)
}

// IsValid reports whether the key is in the catalog.
func (k PlanKey) IsValid() bool {
	_, ok := catalog[k]
	return ok
}

// =============================================================================
// Periods and scopes
// =============================================================================

// Period is the billing cadence of a subscription.
//
// PeriodForever is only produced by manual admin grants; it never expires and
// is never offered for purchase.
type Period string

const (
	PeriodNone    Period = ""
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodForever Period = "forever"
)

const (
	// WeekLength is the duration of a weekly subscription and quota window.
	WeekLength = 7 * 24 * time.Hour

	// MonthLength is the duration of a monthly subscription and quota window.
	MonthLength = 30 * 24 * time.Hour
)

// ParsePeriod parses a period identifier. The empty string is not a period.
func ParsePeriod(s string) (Period, bool) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodWeek, PeriodMonth, PeriodForever:
		return p, true
	default:
		return PeriodNone, false
	}
}

// IsPurchasable reports whether the period can be bought by a user.
func (p Period) IsPurchasable() bool {
	return p == PeriodWeek || p == PeriodMonth
}

// Length returns how long a subscription of this period lasts.
// The boolean is false for periods without a fixed length.
func (p Period) Length() (time.Duration, bool) {
	switch p {
	case PeriodWeek:
		return WeekLength, true
	case PeriodMonth:
		return MonthLength, true
	default:
		return 0, false
	}
}

// Scope is the time window a quota counter resets on.
type Scope string

const (
	ScopeWeekly  Scope = "week"
	ScopeMonthly Scope = "month"
)

// Window returns the reset interval of the scope.
func (s Scope) Window() time.Duration {
	if s == ScopeWeekly {
		return WeekLength
	}
	return MonthLength
}

// =============================================================================
// Limits
// =============================================================================

// Limit is a per-window cap on a counter. The zero value is unlimited.
type Limit struct {
	max    int
	finite bool
}

// Unlimited is a limit that never blocks.
var Unlimited = Limit{}

// Max returns a finite limit of n units per window.
func Max(n int) Limit {
	return Limit{max: n, finite: true}
}

// IsFinite reports whether the limit caps usage.
func (l Limit) IsFinite() bool {
	return l.finite
}

// Value returns the cap. It is meaningless for unlimited limits.
func (l Limit) Value() int {
	return l.max
}

// Reached reports whether used has hit a finite cap.
func (l Limit) Reached(used int) bool {
	return l.finite && used >= l.max
}

// MarshalJSON encodes unlimited as null.
func (l Limit) MarshalJSON() ([]byte, error) {
	if !l.finite {
		return []byte("null"), nil
	}
	return json.Marshal(l.max)
}

// Retention is how long records created under a plan survive.
// The zero value expires records immediately.
type Retention struct {
	days        int
	untilExpiry bool
}

// RetainDays keeps records for n days. Zero or negative means immediate expiry.
func RetainDays(n int) Retention {
	return Retention{days: n}
}

// RetainUntilExpiry ties record lifetime to the subscription lifetime.
var RetainUntilExpiry = Retention{untilExpiry: true}

// UntilExpiry reports whether retention follows the subscription expiry.
func (r Retention) UntilExpiry() bool {
	return r.untilExpiry
}

// Days returns the retention length in days.
func (r Retention) Days() int {
	return r.days
}

// MarshalJSON encodes until-expiry retention as null.
func (r Retention) MarshalJSON() ([]byte, error) {
	if r.untilExpiry {
		return []byte("null"), nil
	}
	return json.Marshal(r.days)
}

// =============================================================================
// Plan catalog
// =============================================================================

// Plan is an immutable bundle of capabilities and limits.
type Plan struct {
	Key                      PlanKey   `json:"key"`
	AllowDisappearingMedia   bool      `json:"allow_disappearing_media"`
	StoreMessages            bool      `json:"store_messages"`
	WeeklyMediaLimit         Limit     `json:"weekly_media_limit"`
	MonthlyMediaLimit        Limit     `json:"monthly_media_limit"`
	WeeklyNotificationLimit  Limit     `json:"weekly_notification_limit"`
	MonthlyNotificationLimit Limit     `json:"monthly_notification_limit"`
	RetentionWeekly          Retention `json:"retention_days_weekly"`
	RetentionMonthly         Retention `json:"retention_days_monthly"`
}

// Limits returns the weekly and monthly limits for a quota family.
func (p Plan) Limits(family QuotaFamily) (weekly, monthly Limit) {
	if family == QuotaMedia {
		return p.WeeklyMediaLimit, p.MonthlyMediaLimit
	}
	return p.WeeklyNotificationLimit, p.MonthlyNotificationLimit
}

// IsPaid reports whether the plan is a paid tier.
func (p Plan) IsPaid() bool {
	return p.Key != PlanFree
}

var catalog = map[PlanKey]Plan{
	PlanFree: {
		Key:                      PlanFree,
		AllowDisappearingMedia:   true,
		StoreMessages:            false,
		WeeklyMediaLimit:         Unlimited,
		MonthlyMediaLimit:        Max(3),
		WeeklyNotificationLimit:  Unlimited,
		MonthlyNotificationLimit: Max(50),
		RetentionWeekly:          RetainDays(0),
		RetentionMonthly:         RetainDays(0),
	},
	PlanLite: {
		Key:                      PlanLite,
		AllowDisappearingMedia:   true,
		StoreMessages:            true,
		WeeklyMediaLimit:         Max(10),
		MonthlyMediaLimit:        Max(25),
		WeeklyNotificationLimit:  Max(250),
		MonthlyNotificationLimit: Max(500),
		RetentionWeekly:          RetainDays(3),
		RetentionMonthly:         RetainDays(3),
	},
	PlanPro: {
		Key:                      PlanPro,
		AllowDisappearingMedia:   true,
		StoreMessages:            true,
		WeeklyMediaLimit:         Max(50),
		MonthlyMediaLimit:        Max(150),
		WeeklyNotificationLimit:  Unlimited,
		MonthlyNotificationLimit: Unlimited,
		RetentionWeekly:          RetainDays(7),
		RetentionMonthly:         RetainDays(30),
	},
}

// GetPlan returns the catalog entry for key, defaulting to the free plan for
// unknown keys.
func GetPlan(key PlanKey) Plan {
	if plan, ok := catalog[key]; ok {
		return plan
	}
	return catalog[DefaultPlan]
}

// LookupPlan is GetPlan for raw persisted identifiers.
func LookupPlan(s string) Plan {
	key, ok := ParsePlanKey(s)
	if !ok {
		return catalog[DefaultPlan]
	}
	return catalog[key]
}

// Plans returns every plan in ascending tier order.
func Plans() []Plan {
	return []Plan{catalog[PlanFree], catalog[PlanLite], catalog[PlanPro]}
}
