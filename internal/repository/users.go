package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/jackc/pgx/v5"
)

// userColumns must match the scan order in scanUser.
const userColumns = `user_id, username, full_name, language, is_banned,
	subscription_tier, subscription_expires_at, COALESCE(subscription_period, ''),
	weekly_media_count, weekly_media_reset_at,
	monthly_media_count, monthly_media_reset_at,
	weekly_notification_count, weekly_notification_reset_at,
	monthly_notification_count, monthly_notification_reset_at,
	created_at, updated_at, last_seen_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u      domain.User
		tier   string
		period string
	)
	s := &u.Subscription
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.FullName,
		&u.Language,
		&u.IsBanned,
		&tier,
		&s.ExpiresAt,
		&period,
		&s.Media.Weekly.Count,
		&s.Media.Weekly.ResetAt,
		&s.Media.Monthly.Count,
		&s.Media.Monthly.ResetAt,
		&s.Notifications.Weekly.Count,
		&s.Notifications.Weekly.ResetAt,
		&s.Notifications.Monthly.Count,
		&s.Notifications.Monthly.ResetAt,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	s.Tier = domain.PlanKey(tier)
	s.Period = domain.Period(period)
	return &u, nil
}

// GetUser returns the user with id.
func (q *Queries) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserForUpdate returns the user with id and locks the row until the
// surrounding transaction ends.
func (q *Queries) GetUserForUpdate(ctx context.Context, id int64) (*domain.User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1 FOR UPDATE`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user for update: %w", err)
	}
	return u, nil
}

// CreateUser inserts u. Inserting an existing user is a no-op.
func (q *Queries) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO users (user_id, username, full_name, language, subscription_tier,
		                   created_at, updated_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		ON CONFLICT (user_id) DO NOTHING`,
		u.ID, u.Username, u.FullName, languageOrDefault(u.Language), string(domain.DefaultPlan), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpsertUserProfile creates the user if needed and refreshes their Telegram
// profile fields. Empty fields keep their stored value.
func (q *Queries) UpsertUserProfile(ctx context.Context, p domain.ProfileUpdateParams, now time.Time) (*domain.User, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO users (user_id, username, full_name, language, subscription_tier,
		                   created_at, updated_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			username     = COALESCE(NULLIF(EXCLUDED.username, ''), users.username),
			full_name    = COALESCE(NULLIF(EXCLUDED.full_name, ''), users.full_name),
			language     = COALESCE(NULLIF($7, ''), users.language),
			updated_at   = EXCLUDED.updated_at,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING `+userColumns,
		p.UserID, p.Username, p.FullName, languageOrDefault(p.Language), string(domain.DefaultPlan), now, p.Language,
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user profile: %w", err)
	}
	return u, nil
}

// SaveSubscription writes every subscription column of the user.
func (q *Queries) SaveSubscription(ctx context.Context, userID int64, s domain.SubscriptionState, now time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE users SET
			subscription_tier              = $2,
			subscription_expires_at        = $3,
			subscription_period            = NULLIF($4, ''),
			weekly_media_count             = $5,
			weekly_media_reset_at          = $6,
			monthly_media_count            = $7,
			monthly_media_reset_at         = $8,
			weekly_notification_count      = $9,
			weekly_notification_reset_at   = $10,
			monthly_notification_count     = $11,
			monthly_notification_reset_at  = $12,
			updated_at                     = $13
		WHERE user_id = $1`,
		userID,
		string(s.Tier),
		s.ExpiresAt,
		string(s.Period),
		s.Media.Weekly.Count,
		s.Media.Weekly.ResetAt,
		s.Media.Monthly.Count,
		s.Media.Monthly.ResetAt,
		s.Notifications.Weekly.Count,
		s.Notifications.Weekly.ResetAt,
		s.Notifications.Monthly.Count,
		s.Notifications.Monthly.ResetAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save subscription: %w", pgx.ErrNoRows)
	}
	return nil
}

// SetUserBanned sets the ban flag.
func (q *Queries) SetUserBanned(ctx context.Context, id int64, banned bool, now time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE users SET is_banned = $2, updated_at = $3 WHERE user_id = $1`,
		id, banned, now,
	)
	if err != nil {
		return fmt.Errorf("set user banned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set user banned: %w", pgx.ErrNoRows)
	}
	return nil
}

func languageOrDefault(lang string) string {
	if lang == "" {
		return "en"
	}
	return lang
}
