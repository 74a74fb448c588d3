package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paysync/internal/clock"
)

// WindowLimiter permits one action per key per interval.
type WindowLimiter interface {
	Allow(ctx context.Context, key string, interval time.Duration) (bool, error)
}

type RedisWindowLimiter struct {
	client *redis.Client
}

func NewRedisWindowLimiter(client *redis.Client) *RedisWindowLimiter {
	return &RedisWindowLimiter{client: client}
}

func (l *RedisWindowLimiter) Allow(ctx context.Context, key string, interval time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, errors.New("rate limiter not configured")
	}
	if key == "" {
		return false, errors.New("rate limiter key is empty")
	}
	if interval <= 0 {
		return true, nil
	}
	return l.client.SetNX(ctx, key, 1, interval).Result()
}

type MemoryWindowLimiter struct {
	mu    sync.Mutex
	clock clock.Clock
	until map[string]time.Time
}

func NewMemoryWindowLimiter(c clock.Clock) *MemoryWindowLimiter {
	if c == nil {
		c = clock.New()
	}
	return &MemoryWindowLimiter{clock: c, until: map[string]time.Time{}}
}

func (l *MemoryWindowLimiter) Allow(ctx context.Context, key string, interval time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("rate limiter key is empty")
	}
	if interval <= 0 {
		return true, nil
	}

	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.until[key]; ok && now.Before(until) {
		return false, nil
	}
	l.until[key] = now.Add(interval)
	if len(l.until) > 4096 {
		for k, until := range l.until {
			if !now.Before(until) {
				delete(l.until, k)
			}
		}
	}
	return true, nil
}

func NewWindowLimiter(client *redis.Client, c clock.Clock) WindowLimiter {
	if client == nil {
		return NewMemoryWindowLimiter(c)
	}
	return NewRedisWindowLimiter(client)
}
