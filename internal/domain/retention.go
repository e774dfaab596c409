package domain

import "time"

// RetentionDeadline returns when a record created at now must be purged.
//
// Plans that do not store messages expire records immediately. Otherwise the
// retention is picked by the billing period: weekly subscribers get the weekly
// retention, everyone else the monthly one. Until-expiry retention returns the
// subscription expiry, which is nil for lifetime grants and means "keep until
// the subscription ends".
func RetentionDeadline(plan Plan, now time.Time, s *SubscriptionState) *time.Time {
	if !plan.StoreMessages {
		return &now
	}

	retention := plan.RetentionMonthly
	if s.Period == PeriodWeek {
		retention = plan.RetentionWeekly
	}

	if retention.UntilExpiry() {
		if s.ExpiresAt == nil {
			return nil
		}
		t := *s.ExpiresAt
		return &t
	}
	if retention.Days() <= 0 {
		return &now
	}

	deadline := now.Add(time.Duration(retention.Days()) * 24 * time.Hour)
	return &deadline
}
