package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminID int64 = 1

func TestAdminService_Grant(t *testing.T) {
	uow, store, _ := newTestUnit(t)
	svc := NewAdminService(uow, testLogger())

	act, err := svc.Grant(context.Background(), adminID, 500, domain.PlanPro, domain.PeriodForever)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, act.Plan)
	assert.Nil(t, act.ExpiresAt)

	u, ok := store.User(500)
	require.True(t, ok, "grant creates the user")
	assert.Equal(t, domain.PlanPro, u.Subscription.Tier)
	assert.True(t, u.Subscription.HasActivePaidPlan(testNow.Add(10*365*24*time.Hour)))

	txs := store.Transactions()
	require.Len(t, txs, 1)
	assert.True(t, txs[0].IsManual)
	assert.Equal(t, domain.MethodManual, txs[0].Method)
	require.NotNil(t, txs[0].InitiatorID)
	assert.Equal(t, adminID, *txs[0].InitiatorID)
}

func TestAdminService_GrantOverridesActivePlan(t *testing.T) {
	uow, store, _ := newTestUnit(t)
	putUser(store, 500, domain.PlanLite, domain.PeriodMonth, at(20*24*time.Hour))
	svc := NewAdminService(uow, testLogger())

	act, err := svc.Grant(context.Background(), adminID, 500, domain.PlanPro, domain.PeriodWeek)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(domain.WeekLength), *act.ExpiresAt)
	assert.Equal(t, domain.PeriodWeek, act.Period)
}

func TestAdminService_GrantValidation(t *testing.T) {
	tests := []struct {
		name   string
		userID int64
		plan   domain.PlanKey
		period domain.Period
	}{
		{"zero user", 0, domain.PlanPro, domain.PeriodWeek},
		{"free plan", 500, domain.PlanFree, domain.PeriodWeek},
		{"unknown plan", 500, "gold", domain.PeriodWeek},
		{"no period", 500, domain.PlanLite, domain.PeriodNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uow, store, _ := newTestUnit(t)
			svc := NewAdminService(uow, testLogger())

			_, err := svc.Grant(context.Background(), adminID, tt.userID, tt.plan, tt.period)
			assertCode(t, err, domain.EINVALID)
			assert.Empty(t, store.Transactions())
		})
	}
}

func TestAdminService_SetBanned(t *testing.T) {
	uow, store, _ := newTestUnit(t)
	putUser(store, 500, domain.PlanFree, domain.PeriodNone, nil)
	svc := NewAdminService(uow, testLogger())
	ctx := context.Background()

	require.NoError(t, svc.SetBanned(ctx, 500, true))
	u, _ := store.User(500)
	assert.True(t, u.IsBanned)

	assertCode(t, svc.SetBanned(ctx, 500, true), domain.ECONFLICT)

	require.NoError(t, svc.SetBanned(ctx, 500, false))
	assertCode(t, svc.SetBanned(ctx, 500, false), domain.ECONFLICT)

	assertCode(t, svc.SetBanned(ctx, 999, true), domain.ENOTFOUND)
}

func TestAdminService_Stats(t *testing.T) {
	uow, store, _ := newTestUnit(t)
	svc := NewAdminService(uow, testLogger())
	pay := NewPaymentService(uow, nil, testLogger())
	ctx := context.Background()

	putUser(store, 10, domain.PlanFree, domain.PeriodNone, nil)
	putUser(store, 11, domain.PlanFree, domain.PeriodNone, nil)
	_, err := pay.RecordStarsPayment(ctx, 11, "stars:lite:month", 99, "")
	require.NoError(t, err)
	_, err = svc.Grant(ctx, adminID, 12, domain.PlanPro, domain.PeriodMonth)
	require.NoError(t, err)
	require.NoError(t, svc.SetBanned(ctx, 10, true))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.UsersByTier[domain.PlanFree])
	assert.Equal(t, int64(1), stats.UsersByTier[domain.PlanLite])
	assert.Equal(t, int64(1), stats.UsersByTier[domain.PlanPro])
	assert.Equal(t, int64(2), stats.ActiveSubscriptions)
	assert.Equal(t, int64(1), stats.BannedUsers)
	assert.Equal(t, int64(1), stats.Payments30d, "manual grants are not payments")
	assert.Equal(t, int64(99), stats.RevenueStars30d)

	store.FailOn["GetStats"] = errors.New("timeout")
	_, err = svc.Stats(ctx)
	assertCode(t, err, domain.EINTERNAL)
}
