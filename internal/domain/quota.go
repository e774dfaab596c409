// Package domain contains core business types and interfaces.
//
// This file defines the rolling-window quota counters consumed by media
// capture and owner notifications.
package domain

import (
	"strings"
	"time"
)

// QuotaFamily identifies a pair of weekly/monthly counters.
type QuotaFamily string

const (
	QuotaMedia        QuotaFamily = "media"
	QuotaNotification QuotaFamily = "notification"
)

// ParseQuotaFamily parses a family identifier.
func ParseQuotaFamily(s string) (QuotaFamily, bool) {
	switch f := QuotaFamily(strings.ToLower(strings.TrimSpace(s))); f {
	case QuotaMedia, QuotaNotification:
		return f, true
	default:
		return "", false
	}
}

// ConsumeReason explains why a consume was denied.
type ConsumeReason string

const (
	ReasonNone         ConsumeReason = ""
	ReasonNotAllowed   ConsumeReason = "not_allowed"
	ReasonWeeklyLimit  ConsumeReason = "weekly_limit"
	ReasonMonthlyLimit ConsumeReason = "monthly_limit"
)

// ConsumeResult is the outcome of CheckAndConsume. Limit and ResetAt are set
// only for limit denials.
type ConsumeResult struct {
	Allowed bool          `json:"allowed"`
	Reason  ConsumeReason `json:"reason,omitempty"`
	Limit   *int          `json:"limit,omitempty"`
	ResetAt *time.Time    `json:"reset_at,omitempty"`
}

// Err converts a denial into an error. It returns nil when the consume was
// allowed.
func (r ConsumeResult) Err(op string, family QuotaFamily) error {
	switch r.Reason {
	case ReasonNone:
		return nil
	case ReasonNotAllowed:
		return ErrCapabilityNotAllowed
	}

	scope := ScopeMonthly
	if r.Reason == ReasonWeeklyLimit {
		scope = ScopeWeekly
	}
	limit := 0
	if r.Limit != nil {
		limit = *r.Limit
	}
	return QuotaExceeded(op, family, scope, limit, r.ResetAt)
}

// CheckAndConsume spends one unit of family on the user's plan.
//
// Both scopes are rolled over before any limit is checked. The weekly limit
// is checked before the monthly one. The call either increments every
// finite-limited scope exactly once or changes nothing; unlimited scopes are
// never incremented. Business-rule denials are reported in the result, never
// as errors.
func CheckAndConsume(s *SubscriptionState, plan Plan, now time.Time, family QuotaFamily) ConsumeResult {
	if family == QuotaMedia && !plan.AllowDisappearingMedia {
		return ConsumeResult{Reason: ReasonNotAllowed}
	}

	counters := s.Counters(family)
	counters.Weekly.rollover(now, WeekLength)
	counters.Monthly.rollover(now, MonthLength)

	weekly, monthly := plan.Limits(family)

	if weekly.Reached(counters.Weekly.Count) {
		return denied(ReasonWeeklyLimit, weekly, counters.Weekly.ResetAt)
	}
	if monthly.Reached(counters.Monthly.Count) {
		return denied(ReasonMonthlyLimit, monthly, counters.Monthly.ResetAt)
	}

	if weekly.IsFinite() {
		counters.Weekly.Count++
	}
	if monthly.IsFinite() {
		counters.Monthly.Count++
	}
	return ConsumeResult{Allowed: true}
}

func denied(reason ConsumeReason, limit Limit, resetAt *time.Time) ConsumeResult {
	value := limit.Value()
	var at *time.Time
	if resetAt != nil {
		t := *resetAt
		at = &t
	}
	return ConsumeResult{
		Reason:  reason,
		Limit:   &value,
		ResetAt: at,
	}
}
