// Package service contains the business logic layer.
//
// This file implements the subscription service: profile refresh, the "my
// subscription" snapshot and quota consumption.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/metrics"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SubscriptionService reads and spends a user's subscription.
type SubscriptionService interface {
	// UpdateProfile creates the user on first contact and refreshes their
	// Telegram profile fields.
	UpdateProfile(ctx context.Context, params domain.ProfileUpdateParams) (*domain.User, error)

	// Snapshot returns the profile view. Lazy expiry is persisted; counters
	// are not touched.
	Snapshot(ctx context.Context, userID int64) (domain.Profile, error)

	// Consume spends one unit of family. A denial is a result, not an error.
	Consume(ctx context.Context, userID int64, family domain.QuotaFamily) (domain.ConsumeResult, error)
}

// =============================================================================
// Implementation
// =============================================================================

type subscriptionService struct {
	uow    *UnitOfWork
	logger *slog.Logger
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(uow *UnitOfWork, logger *slog.Logger) SubscriptionService {
	return &subscriptionService{
		uow:    uow,
		logger: logger,
	}
}

func (s *subscriptionService) UpdateProfile(ctx context.Context, params domain.ProfileUpdateParams) (*domain.User, error) {
	const op = "subscription.update_profile"

	if params.UserID <= 0 {
		return nil, domain.Invalid(op, "user id must be positive")
	}

	unlock := s.uow.locks.lock(params.UserID)
	defer unlock()

	user, err := s.uow.repo.UpsertUserProfile(ctx, params, s.uow.Now())
	if err != nil {
		return nil, domain.Internal(err, op, "failed to update profile")
	}
	return user, nil
}

func (s *subscriptionService) Snapshot(ctx context.Context, userID int64) (domain.Profile, error) {
	const op = "subscription.snapshot"

	var profile domain.Profile
	err := s.uow.RunCreate(ctx, op, userID, func(_ repository.Querier, user *domain.User, now time.Time) error {
		before := user.Subscription.Tier
		profile = domain.Snapshot(&user.Subscription, now)
		if before != user.Subscription.Tier {
			s.logger.Info("subscription expired", "user_id", userID, "tier", before)
		}
		return nil
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

func (s *subscriptionService) Consume(ctx context.Context, userID int64, family domain.QuotaFamily) (domain.ConsumeResult, error) {
	const op = "subscription.consume"

	var result domain.ConsumeResult
	err := s.uow.RunCreate(ctx, op, userID, func(_ repository.Querier, user *domain.User, now time.Time) error {
		plan := domain.Resolve(&user.Subscription, now)
		result = domain.CheckAndConsume(&user.Subscription, plan, now, family)
		return nil
	})
	if err != nil {
		return domain.ConsumeResult{}, err
	}

	metrics.QuotaDecision(family, result)
	if !result.Allowed {
		s.logger.Debug("quota denied", "user_id", userID, "family", family, "reason", result.Reason)
	}
	return result, nil
}
