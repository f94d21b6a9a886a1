// Package ratelimit enforces per-session outbound send caps against a shared
// Redis counter so the limit holds across worker processes.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/waygate/internal/logging"
)

const window = 60 * time.Second

// Limiter counts sends per session in a one-minute expiring window.
type Limiter struct {
	rdb *redis.Client
	log *logging.Logger
}

// New creates a rate limiter.
func New(rdb *redis.Client, log *logging.Logger) *Limiter {
	return &Limiter{rdb: rdb, log: log.Sub("ratelimit")}
}

// Allow increments the session's counter and reports whether the send is
// within the per-minute limit. The first increment in a window sets the
// expiry. Any Redis error fails open: availability over strict enforcement.
func (l *Limiter) Allow(ctx context.Context, sessionID string, perMinute int) bool {
	key := "rate_limit:" + sessionID

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		l.log.Error().Err(err).Str("sessionId", sessionID).Msg("rate limiter error, failing open")
		return true
	}

	if count == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			l.log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to set rate window expiry")
		}
	}

	if count > int64(perMinute) {
		l.log.Warn().
			Str("sessionId", sessionID).
			Int64("count", count).
			Int("limit", perMinute).
			Msg("rate limit exceeded")
		return false
	}
	return true
}
