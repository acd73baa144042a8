package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis counts hits per key with INCR and lets the key expire after window.
// Counters are shared by every process using the same redis.
type Redis struct {
	Client *redis.Client
	Limit  int
	Window time.Duration
	Prefix string
}

func NewRedis(client *redis.Client, limit int, window time.Duration, prefix string) *Redis {
	if prefix == "" {
		prefix = "rl:"
	}
	return &Redis{Client: client, Limit: limit, Window: window, Prefix: prefix}
}

func (l *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.Prefix + key
	count, err := l.Client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.Client.Expire(ctx, k, l.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	ttl, err := l.Client.TTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit ttl: %w", err)
	}
	if ttl < 0 {
		// Key lost its expiry (crash between INCR and EXPIRE).
		_ = l.Client.Expire(ctx, k, l.Window).Err()
		ttl = l.Window
	}
	return decide(count, l.Limit, ttl), nil
}
