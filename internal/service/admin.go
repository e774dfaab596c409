// Package service contains the business logic layer.
//
// This file implements the admin service: manual grants, bans and the
// dashboard stats.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/metrics"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository"
)

// AdminService holds operator actions. Callers are authorized by the
// HTTP layer.
type AdminService interface {
	// Grant applies plan for period, creating the user when missing, and
	// records a manual transaction. period may be week, month or forever.
	Grant(ctx context.Context, adminID, userID int64, plan domain.PlanKey, period domain.Period) (*Activation, error)

	// SetBanned sets the ban flag. Returns ENOTFOUND for unknown users and
	// ECONFLICT when the flag already has that value.
	SetBanned(ctx context.Context, userID int64, banned bool) error

	// Stats returns the dashboard summary.
	Stats(ctx context.Context) (*domain.Stats, error)
}

type adminService struct {
	uow    *UnitOfWork
	logger *slog.Logger
}

// NewAdminService creates a new AdminService.
func NewAdminService(uow *UnitOfWork, logger *slog.Logger) AdminService {
	return &adminService{
		uow:    uow,
		logger: logger,
	}
}

func (s *adminService) Grant(ctx context.Context, adminID, userID int64, plan domain.PlanKey, period domain.Period) (*Activation, error) {
	const op = "admin.grant"

	if userID <= 0 {
		return nil, domain.Invalid(op, "user id must be positive")
	}
	if !plan.IsValid() || plan == domain.PlanFree {
		return nil, domain.Invalid(op, "plan must be lite or pro")
	}
	if !period.IsPurchasable() && period != domain.PeriodForever {
		return nil, domain.Invalid(op, "period must be week, month or forever")
	}

	var activation *Activation
	err := s.uow.RunCreate(ctx, op, userID, func(q repository.Querier, user *domain.User, now time.Time) error {
		initiator := adminID
		var err error
		activation, err = applyAndRecord(ctx, q, op, user, plan, period, now, &domain.PaymentTransaction{
			Method:      domain.MethodManual,
			IsManual:    true,
			InitiatorID: &initiator,
			Details:     "admin grant",
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.SubscriptionActivated(plan, period, metrics.SourceAdmin)
	s.logger.Info("subscription granted",
		"admin_id", adminID,
		"user_id", userID,
		"plan", plan,
		"period", period,
	)
	return activation, nil
}

func (s *adminService) SetBanned(ctx context.Context, userID int64, banned bool) error {
	const op = "admin.set_banned"

	return s.uow.Run(ctx, op, userID, func(q repository.Querier, user *domain.User, now time.Time) error {
		if user.IsBanned == banned {
			if banned {
				return domain.Conflict(op, "user is already banned")
			}
			return domain.Conflict(op, "user is not banned")
		}
		if err := q.SetUserBanned(ctx, userID, banned, now); err != nil {
			return domain.Internal(err, op, "failed to update ban flag")
		}
		s.logger.Info("ban flag changed", "user_id", userID, "banned", banned)
		return nil
	})
}

func (s *adminService) Stats(ctx context.Context) (*domain.Stats, error) {
	const op = "admin.stats"

	stats, err := s.uow.Repo().GetStats(ctx, s.uow.Now())
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load stats")
	}
	return stats, nil
}
