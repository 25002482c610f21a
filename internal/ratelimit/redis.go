package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts requests in Redis under a day-scoped key. It is the
// deployment alternative to StoreLimiter for installations that want the hot
// counter off the primary database; premium status still comes from the store.
type RedisLimiter struct {
	client *redis.Client
	store  Store
	cap    int
	clock  func() time.Time
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithRedisCap overrides the free-tier cap applied to users whose row does
// not carry an explicit max_per_day.
func WithRedisCap(n int) RedisOption {
	return func(l *RedisLimiter) {
		if n > 0 {
			l.cap = n
		}
	}
}

// NewRedisLimiter returns a limiter backed by the given Redis client. The
// store is consulted once per check for the user's tier and cap.
func NewRedisLimiter(client *redis.Client, store Store, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		client: client,
		store:  store,
		cap:    DefaultFreeTierCap,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLimiter) key(userID string) string {
	return fmt.Sprintf("hearth:ratelimit:%s:%s", userID, l.clock().UTC().Format("2006-01-02"))
}

// Check enforces the daily budget against the day-keyed Redis counter.
func (l *RedisLimiter) Check(ctx context.Context, userID string) (Result, error) {
	limits, err := l.store.GetUserLimits(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	cap := l.cap
	premium := false
	if limits != nil {
		premium = limits.IsPremium
		if limits.MaxPerDay > 0 {
			cap = limits.MaxPerDay
		}
	} else {
		fresh := &UserLimits{UserID: userID, MaxPerDay: l.cap}
		if err := l.store.CreateUserLimits(ctx, fresh); err != nil {
			return Result{}, err
		}
	}

	if premium {
		return Result{Allowed: true, Remaining: -1}, nil
	}

	key := l.key(userID)
	current, err := l.client.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return Result{}, err
	}
	if current >= cap {
		return Result{Allowed: false, Remaining: 0}, nil
	}

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}
	remaining := cap - int(incr.Val())
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining}, nil
}
