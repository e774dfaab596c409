package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Hour)

	tests := []struct {
		name        string
		state       SubscriptionState
		wantPlan    PlanKey
		wantExpires *time.Time
		wantPeriod  Period
	}{
		{
			name:     "fresh user",
			state:    SubscriptionState{},
			wantPlan: PlanFree,
		},
		{
			name:     "expired lite downgrades",
			state:    SubscriptionState{Tier: PlanLite, ExpiresAt: &past, Period: PeriodWeek},
			wantPlan: PlanFree,
		},
		{
			name:     "expired pro downgrades",
			state:    SubscriptionState{Tier: PlanPro, ExpiresAt: &past, Period: PeriodMonth},
			wantPlan: PlanFree,
		},
		{
			name:     "expiry exactly now downgrades",
			state:    SubscriptionState{Tier: PlanPro, ExpiresAt: ptrTime(testNow), Period: PeriodMonth},
			wantPlan: PlanFree,
		},
		{
			name:        "active pro stays",
			state:       SubscriptionState{Tier: PlanPro, ExpiresAt: &future, Period: PeriodMonth},
			wantPlan:    PlanPro,
			wantExpires: &future,
			wantPeriod:  PeriodMonth,
		},
		{
			name:       "lifetime grant stays",
			state:      SubscriptionState{Tier: PlanPro, Period: PeriodForever},
			wantPlan:   PlanPro,
			wantPeriod: PeriodForever,
		},
		{
			name:     "unknown tier resolves to free plan",
			state:    SubscriptionState{Tier: "platinum"},
			wantPlan: PlanFree,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.state
			plan := Resolve(&s, testNow)
			assert.Equal(t, tt.wantPlan, plan.Key)
			assert.Equal(t, tt.wantExpires, s.ExpiresAt)
			assert.Equal(t, tt.wantPeriod, s.Period)
		})
	}
}

func TestResolve_ExpiredTierIsPersistedAsFree(t *testing.T) {
	past := testNow.Add(-24 * time.Hour)
	s := SubscriptionState{Tier: PlanLite, ExpiresAt: &past, Period: PeriodWeek}

	Resolve(&s, testNow)

	assert.Equal(t, PlanFree, s.Tier)
	assert.Nil(t, s.ExpiresAt)
	assert.Equal(t, PeriodNone, s.Period)
}

func TestApplySubscription(t *testing.T) {
	tests := []struct {
		name        string
		plan        PlanKey
		period      Period
		wantTier    PlanKey
		wantExpires *time.Time
		wantPeriod  Period
	}{
		{"lite week", PlanLite, PeriodWeek, PlanLite, ptrTime(testNow.Add(WeekLength)), PeriodWeek},
		{"pro month", PlanPro, PeriodMonth, PlanPro, ptrTime(testNow.Add(MonthLength)), PeriodMonth},
		{"pro forever", PlanPro, PeriodForever, PlanPro, nil, PeriodForever},
		{"free clears period", PlanFree, PeriodMonth, PlanFree, nil, PeriodNone},
		{"unknown plan applies free", "gold", PeriodMonth, PlanFree, nil, PeriodNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSubscriptionState()
			plan := ApplySubscription(&s, tt.plan, tt.period, testNow)
			assert.Equal(t, tt.wantTier, plan.Key)
			assert.Equal(t, tt.wantTier, s.Tier)
			assert.Equal(t, tt.wantExpires, s.ExpiresAt)
			assert.Equal(t, tt.wantPeriod, s.Period)
		})
	}
}

func TestApplySubscription_ResetsAllCounters(t *testing.T) {
	future := testNow.Add(3 * 24 * time.Hour)
	s := SubscriptionState{
		Tier:      PlanLite,
		ExpiresAt: &future,
		Period:    PeriodWeek,
		Media: QuotaCounters{
			Weekly:  Counter{Count: 9, ResetAt: &future},
			Monthly: Counter{Count: 20, ResetAt: &future},
		},
		Notifications: QuotaCounters{
			Weekly:  Counter{Count: 200, ResetAt: &future},
			Monthly: Counter{Count: 400, ResetAt: &future},
		},
	}

	ApplySubscription(&s, PlanLite, PeriodWeek, testNow)

	for _, c := range []Counter{s.Media.Weekly, s.Notifications.Weekly} {
		assert.Equal(t, 0, c.Count)
		require.NotNil(t, c.ResetAt)
		assert.Equal(t, testNow.Add(WeekLength), *c.ResetAt)
	}
	for _, c := range []Counter{s.Media.Monthly, s.Notifications.Monthly} {
		assert.Equal(t, 0, c.Count)
		require.NotNil(t, c.ResetAt)
		assert.Equal(t, testNow.Add(MonthLength), *c.ResetAt)
	}
}

func TestHasActivePaidPlan(t *testing.T) {
	future := testNow.Add(time.Hour)
	past := testNow.Add(-time.Hour)

	assert.False(t, (&SubscriptionState{Tier: PlanFree}).HasActivePaidPlan(testNow))
	assert.True(t, (&SubscriptionState{Tier: PlanLite, ExpiresAt: &future}).HasActivePaidPlan(testNow))
	assert.False(t, (&SubscriptionState{Tier: PlanLite, ExpiresAt: &past}).HasActivePaidPlan(testNow))
	assert.True(t, (&SubscriptionState{Tier: PlanPro}).HasActivePaidPlan(testNow))
}
