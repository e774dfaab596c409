// Package service contains the business logic layer.
//
// This file implements the per-user unit of work every subscription
// mutation runs in: an in-process lock on the user id, one database
// transaction, and the user row loaded FOR UPDATE.
package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/repository"
	"github.com/jackc/pgx/v5"
)

// Clock returns the current time.
type Clock func() time.Time

// userLocks is a keyed mutex. Entries are dropped when nobody holds or
// waits for them.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*userLock)}
}

// lock blocks until the caller holds id and returns the unlock func.
func (l *userLocks) lock(id int64) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &userLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// UnitOfWork serializes work per user. Every service that touches
// subscription state must share one UnitOfWork.
type UnitOfWork struct {
	repo  repository.Repository
	locks *userLocks
	now   Clock
}

// NewUnitOfWork returns a UnitOfWork over repo. A nil clock uses time.Now.
func NewUnitOfWork(repo repository.Repository, now Clock) *UnitOfWork {
	if now == nil {
		now = time.Now
	}
	return &UnitOfWork{
		repo:  repo,
		locks: newUserLocks(),
		now:   now,
	}
}

// Repo returns the underlying repository.
func (u *UnitOfWork) Repo() repository.Repository {
	return u.repo
}

// Now returns the current time from the clock.
func (u *UnitOfWork) Now() time.Time {
	return u.now()
}

// userFunc mutates user inside the transaction. The subscription is saved
// when it returns nil.
type userFunc func(q repository.Querier, user *domain.User, now time.Time) error

// Run locks userID, loads the row FOR UPDATE and calls fn. Unknown users
// return ENOTFOUND. Any error rolls the whole unit back.
func (u *UnitOfWork) Run(ctx context.Context, op string, userID int64, fn userFunc) error {
	return u.run(ctx, op, userID, false, fn)
}

// RunCreate is Run for a first interaction: a missing user is created on
// the free plan before the row is loaded.
func (u *UnitOfWork) RunCreate(ctx context.Context, op string, userID int64, fn userFunc) error {
	return u.run(ctx, op, userID, true, fn)
}

func (u *UnitOfWork) run(ctx context.Context, op string, userID int64, create bool, fn userFunc) error {
	unlock := u.locks.lock(userID)
	defer unlock()

	return u.repo.InTx(ctx, func(q repository.Querier) error {
		now := u.now()
		if create {
			if err := q.CreateUser(ctx, domain.NewUser(userID, now)); err != nil {
				return domain.Internal(err, op, "failed to create user")
			}
		}

		user, err := q.GetUserForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.NotFound(op, "user", strconv.FormatInt(userID, 10))
			}
			return domain.Internal(err, op, "failed to load user")
		}

		if err := fn(q, user, now); err != nil {
			return err
		}

		if err := q.SaveSubscription(ctx, userID, user.Subscription, now); err != nil {
			return domain.Internal(err, op, "failed to save subscription")
		}
		return nil
	})
}

// isNotFound reports whether err is a not found domain error.
func isNotFound(err error) bool {
	return domain.ErrorCode(err) == domain.ENOTFOUND
}
