// Package domain contains core business types and interfaces.
//
// This file defines the User domain type: a Telegram account that owns a
// business connection and a subscription.
package domain

import "time"

// User is a bot user together with their subscription record.
//
// ID is the Telegram user id. The subscription fields live on the same row so
// that one SELECT ... FOR UPDATE serializes every quota mutation.
type User struct {
	ID           int64
	Username     string
	FullName     string
	Language     string
	IsBanned     bool
	Subscription SubscriptionState
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSeenAt   *time.Time
}

// NewUser returns a user on their first interaction: free tier, counters
// zero, no reset timestamps.
func NewUser(id int64, now time.Time) *User {
	return &User{
		ID:           id,
		Subscription: NewSubscriptionState(),
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSeenAt:   &now,
	}
}

// DisplayName returns the user's full name, falling back to the username.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return ""
}

// ProfileUpdateParams contains the Telegram profile fields refreshed on each
// interaction.
type ProfileUpdateParams struct {
	UserID   int64
	Username string
	FullName string
	Language string
}
