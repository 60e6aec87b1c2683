package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"callback_backend/platform/config"
	"callback_backend/platform/logger"
)

// window is one counting interval of the limiter.
type window struct {
	name  string
	ttl   time.Duration
	limit int
}

// RedisLimiter is a fixed-window rate limiter with multiple stacked windows
// (burst, hourly, daily), keyed by client identity. Counters are incremented
// on every check (check-and-increment) so concurrent requests from the same
// key cannot slip through a check-then-increment race.
type RedisLimiter struct {
	rdb     *redis.Client
	windows []window
	log     *logger.Logger
}

// NewRedisLimiter creates a limiter from configuration.
func NewRedisLimiter(rdb *redis.Client, cfg config.RateLimitConfig, log *logger.Logger) *RedisLimiter {
	return &RedisLimiter{
		rdb: rdb,
		windows: []window{
			{name: "minute", ttl: time.Minute, limit: cfg.GetRateLimitPerMinute()},
			{name: "hour", ttl: time.Hour, limit: cfg.GetRateLimitPerHour()},
			{name: "day", ttl: 24 * time.Hour, limit: cfg.GetRateLimitPerDay()},
		},
		log: log,
	}
}

// Allow reports whether a request from the given client key may proceed.
// Every window counter is incremented atomically in one pipeline; the
// request is rejected once any window is over its ceiling. Redis being
// unreachable fails open: the in-process IP limiter in the HTTP layer
// remains as the safety net, and a visitor request is never dropped because
// an internal dependency is down.
func (l *RedisLimiter) Allow(ctx context.Context, clientKey string) bool {
	pipe := l.rdb.TxPipeline()

	incrs := make([]*redis.IntCmd, len(l.windows))
	for i, w := range l.windows {
		key := fmt.Sprintf("ratelimit:%s:%s", clientKey, w.name)
		incrs[i] = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, w.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		if l.log != nil {
			l.log.Error("rate limiter unavailable, allowing request", "error", err)
		}
		return true
	}

	for i, w := range l.windows {
		if incrs[i].Val() > int64(w.limit) {
			return false
		}
	}
	return true
}
