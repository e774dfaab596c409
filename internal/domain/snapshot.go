package domain

import "time"

// LimitSnapshot is the read-only view of one finite quota scope.
type LimitSnapshot struct {
	Scope     Scope     `json:"scope"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// UsageSnapshot holds the finite scopes of one quota family. Unlimited
// scopes are nil.
type UsageSnapshot struct {
	Weekly  *LimitSnapshot `json:"weekly,omitempty"`
	Monthly *LimitSnapshot `json:"monthly,omitempty"`
}

// Profile is what the "my subscription" screen shows.
type Profile struct {
	Plan          Plan          `json:"plan"`
	ExpiresAt     *time.Time    `json:"expires_at"`
	Period        Period        `json:"period,omitempty"`
	Media         UsageSnapshot `json:"media"`
	Notifications UsageSnapshot `json:"notifications"`
}

// Snapshot resolves the plan and reports usage without touching counters.
// A window that has elapsed reports zero usage and the reset a consume at now
// would schedule.
func Snapshot(s *SubscriptionState, now time.Time) Profile {
	plan := Resolve(s, now)

	return Profile{
		Plan:          plan,
		ExpiresAt:     s.ExpiresAt,
		Period:        s.Period,
		Media:         usageSnapshot(plan, QuotaMedia, s.Media, now),
		Notifications: usageSnapshot(plan, QuotaNotification, s.Notifications, now),
	}
}

func usageSnapshot(plan Plan, family QuotaFamily, counters QuotaCounters, now time.Time) UsageSnapshot {
	weekly, monthly := plan.Limits(family)
	return UsageSnapshot{
		Weekly:  limitSnapshot(ScopeWeekly, weekly, counters.Weekly, now),
		Monthly: limitSnapshot(ScopeMonthly, monthly, counters.Monthly, now),
	}
}

func limitSnapshot(scope Scope, limit Limit, c Counter, now time.Time) *LimitSnapshot {
	if !limit.IsFinite() {
		return nil
	}

	used := c.Count
	var resetAt time.Time
	if c.isStale(now) {
		used = 0
		resetAt = now.Add(scope.Window())
	} else {
		resetAt = *c.ResetAt
	}

	remaining := limit.Value() - used
	if remaining < 0 {
		remaining = 0
	}
	return &LimitSnapshot{
		Scope:     scope,
		Limit:     limit.Value(),
		Used:      used,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
