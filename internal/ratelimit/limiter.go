// Package ratelimit throttles per-user actions with a Redis INCR + EXPIRE
// fixed window. It fails open: a Redis outage never blocks legitimate traffic.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is a rate limiting policy: key prefix, allowed count and window.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// SendMessageRule builds the rule applied to message sends.
func SendMessageRule(limit int, window time.Duration) Rule {
	return Rule{Key: "rl:send:", Limit: limit, Window: window}
}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client redis.UniversalClient
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client redis.UniversalClient) *Limiter {
	return &Limiter{client: client}
}

// Allow increments the counter of identifier under rule and reports whether
// the call is still within the limit. A non-positive limit disables the rule.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	if rule.Limit <= 0 {
		return true
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("WARNING: [ratelimit] INCR %s: %v (failing open)", key, err)
		return true
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("WARNING: [ratelimit] EXPIRE %s: %v (failing open)", key, err)
			// A key without TTL would throttle the identifier forever.
			l.client.Del(ctx, key)
			return true
		}
	}

	return int(count) <= rule.Limit
}
