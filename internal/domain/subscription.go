package domain

import "time"

// Counter is a usage count that is only meaningful until ResetAt.
type Counter struct {
	Count   int
	ResetAt *time.Time
}

// isStale reports whether the counter's window has elapsed at now.
func (c Counter) isStale(now time.Time) bool {
	return c.ResetAt == nil || !now.Before(*c.ResetAt)
}

// rollover zeroes a stale counter and opens a new window starting at now.
func (c *Counter) rollover(now time.Time, window time.Duration) {
	if c.isStale(now) {
		c.restart(now, window)
	}
}

// restart unconditionally zeroes the counter and opens a new window.
func (c *Counter) restart(now time.Time, window time.Duration) {
	resetAt := now.Add(window)
	c.Count = 0
	c.ResetAt = &resetAt
}

// QuotaCounters holds the weekly and monthly counters of one quota family.
type QuotaCounters struct {
	Weekly  Counter
	Monthly Counter
}

// SubscriptionState is the persisted subscription record of one user.
//
// The zero value is a fresh free user with no counters started.
type SubscriptionState struct {
	Tier          PlanKey
	ExpiresAt     *time.Time
	Period        Period
	Media         QuotaCounters
	Notifications QuotaCounters
}

// NewSubscriptionState returns the state of a user on first interaction.
func NewSubscriptionState() SubscriptionState {
	return SubscriptionState{Tier: DefaultPlan}
}

// Counters returns the counters for a quota family.
func (s *SubscriptionState) Counters(family QuotaFamily) *QuotaCounters {
	if family == QuotaMedia {
		return &s.Media
	}
	return &s.Notifications
}

// HasActivePaidPlan reports whether the user holds a non-free tier that has
// not expired at now. Lifetime grants (no expiry) are active.
func (s *SubscriptionState) HasActivePaidPlan(now time.Time) bool {
	if s.Tier == "" || s.Tier == PlanFree {
		return false
	}
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}

// expiresAfter reports whether the subscription carries an expiry later than now.
func (s *SubscriptionState) expiresAfter(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.After(now)
}

// Resolve returns the effective plan for the state at now.
//
// Resolve is a mutating query: a paid tier whose expiry has passed is
// downgraded to free in place, with ExpiresAt and Period cleared, so that no
// limit is ever evaluated against a stale tier. Unknown tiers resolve to the
// free plan.
func Resolve(s *SubscriptionState, now time.Time) Plan {
	if s.Tier == "" {
		s.Tier = DefaultPlan
	}
	if s.Tier != PlanFree && s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		s.Tier = PlanFree
		s.ExpiresAt = nil
		s.Period = PeriodNone
	}
	return GetPlan(s.Tier)
}

// ApplySubscription activates plan key for period starting at now.
//
// The free plan clears expiry and period. Week and month set the expiry one
// period length from now. PeriodForever leaves no expiry. Every activation
// restarts all four quota counters, regardless of unused quota.
func ApplySubscription(s *SubscriptionState, key PlanKey, period Period, now time.Time) Plan {
	plan := GetPlan(key)
	s.Tier = plan.Key

	switch length, ok := period.Length(); {
	case plan.Key == PlanFree:
		s.ExpiresAt = nil
		s.Period = PeriodNone
	case ok:
		expiresAt := now.Add(length)
		s.ExpiresAt = &expiresAt
		s.Period = period
	case period == PeriodForever:
		s.ExpiresAt = nil
		s.Period = PeriodForever
	default:
		s.ExpiresAt = nil
		s.Period = PeriodNone
	}

	for _, counters := range []*QuotaCounters{&s.Media, &s.Notifications} {
		counters.Weekly.restart(now, WeekLength)
		counters.Monthly.restart(now, MonthLength)
	}

	return plan
}
