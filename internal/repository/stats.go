package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/shopspring/decimal"
)

// statsWindow is how far back payment totals reach.
const statsWindow = 30 * 24 * time.Hour

// GetStats aggregates the admin dashboard numbers at now.
func (q *Queries) GetStats(ctx context.Context, now time.Time) (*domain.Stats, error) {
	stats := &domain.Stats{UsersByTier: make(map[domain.PlanKey]int64)}

	rows, err := q.db.Query(ctx, `
		SELECT CASE
		           WHEN subscription_tier <> 'free'
		            AND subscription_expires_at IS NOT NULL
		            AND subscription_expires_at <= $1 THEN 'free'
		           ELSE subscription_tier
		       END AS tier,
		       COUNT(*)
		FROM users
		GROUP BY tier`, now)
	if err != nil {
		return nil, fmt.Errorf("count users by tier: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tier  string
			count int64
		)
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("scan tier count: %w", err)
		}
		stats.UsersByTier[domain.PlanKey(tier)] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tier counts: %w", err)
	}

	err = q.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE subscription_tier <> 'free'
			                 AND (subscription_expires_at IS NULL OR subscription_expires_at > $1)),
			COUNT(*) FILTER (WHERE is_banned)
		FROM users`, now).Scan(&stats.ActiveSubscriptions, &stats.BannedUsers)
	if err != nil {
		return nil, fmt.Errorf("count active subscriptions: %w", err)
	}

	var usd decimal.NullDecimal
	err = q.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(amount_stars), 0)::bigint,
		       COALESCE(SUM(amount_usd), 0)::text
		FROM payment_transactions
		WHERE is_manual = FALSE AND created_at >= $1`,
		now.Add(-statsWindow),
	).Scan(&stats.Payments30d, &stats.RevenueStars30d, &usd)
	if err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}
	if usd.Valid {
		stats.RevenueUSD30d = usd.Decimal
	}

	return stats, nil
}
