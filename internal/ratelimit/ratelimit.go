// Package ratelimit enforces the per-user daily request budget.
package ratelimit

import (
	"context"
)

// DefaultFreeTierCap is the daily request ceiling for non-premium users.
const DefaultFreeTierCap = 50

// Result reports the outcome of a budget check.
type Result struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// Limiter answers whether a user may send another request today.
type Limiter interface {
	Check(ctx context.Context, userID string) (Result, error)
}

// UserLimits is a user's budget row.
type UserLimits struct {
	UserID        string
	RequestsToday int
	MaxPerDay     int
	IsPremium     bool
}

// Store provides the budget rows limiters read and update. IncrementRequests
// must be a single atomic increment at the storage layer; the limiter relies
// on that to avoid lost updates when the same user races concurrent requests.
type Store interface {
	// GetUserLimits returns nil, nil when no row exists for the user.
	GetUserLimits(ctx context.Context, userID string) (*UserLimits, error)
	// CreateUserLimits inserts a fresh row with requests_today = 0.
	CreateUserLimits(ctx context.Context, limits *UserLimits) error
	// IncrementRequests atomically adds one to requests_today and returns the
	// new value.
	IncrementRequests(ctx context.Context, userID string) (int, error)
}

// StoreLimiter counts requests against rows in persistent storage.
type StoreLimiter struct {
	store Store
	cap   int
}

// StoreOption configures a StoreLimiter.
type StoreOption func(*StoreLimiter)

// WithCap overrides the free-tier cap applied to users whose row does not
// carry an explicit max_per_day.
func WithCap(n int) StoreOption {
	return func(l *StoreLimiter) {
		if n > 0 {
			l.cap = n
		}
	}
}

// NewStoreLimiter returns a limiter with the default free-tier cap.
func NewStoreLimiter(store Store, opts ...StoreOption) *StoreLimiter {
	l := &StoreLimiter{store: store, cap: DefaultFreeTierCap}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check enforces the daily budget for a user. First contact lazily creates the
// row. Premium users are effectively unlimited. The counter is incremented
// only when the request is allowed, so denied requests spend no budget.
func (l *StoreLimiter) Check(ctx context.Context, userID string) (Result, error) {
	limits, err := l.store.GetUserLimits(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if limits == nil {
		limits = &UserLimits{
			UserID:    userID,
			MaxPerDay: l.cap,
		}
		if err := l.store.CreateUserLimits(ctx, limits); err != nil {
			return Result{}, err
		}
	}

	if limits.IsPremium {
		if _, err := l.store.IncrementRequests(ctx, userID); err != nil {
			return Result{}, err
		}
		return Result{Allowed: true, Remaining: -1}, nil
	}

	cap := limits.MaxPerDay
	if cap <= 0 {
		cap = l.cap
	}
	if limits.RequestsToday >= cap {
		return Result{Allowed: false, Remaining: 0}, nil
	}

	after, err := l.store.IncrementRequests(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	remaining := cap - after
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining}, nil
}
