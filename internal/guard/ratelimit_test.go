package guard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type rateLimitConfig struct {
	perMinute int
	perHour   int
	perDay    int
}

func (c rateLimitConfig) GetRedisURL() string        { return "" }
func (c rateLimitConfig) GetRateLimitPerMinute() int { return c.perMinute }
func (c rateLimitConfig) GetRateLimitPerHour() int   { return c.perHour }
func (c rateLimitConfig) GetRateLimitPerDay() int    { return c.perDay }

func newTestLimiter(t *testing.T, cfg rateLimitConfig) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLimiter(rdb, cfg, nil), mr
}

func TestAllowBurstWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t, rateLimitConfig{perMinute: 5, perHour: 50, perDay: 200})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !limiter.Allow(ctx, "203.0.113.7") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow(ctx, "203.0.113.7") {
		t.Fatal("sixth request in the same minute should be rejected")
	}
}

func TestAllowIsolatesClients(t *testing.T) {
	limiter, _ := newTestLimiter(t, rateLimitConfig{perMinute: 1, perHour: 50, perDay: 200})
	ctx := context.Background()

	if !limiter.Allow(ctx, "203.0.113.7") {
		t.Fatal("first client's first request should be allowed")
	}
	if limiter.Allow(ctx, "203.0.113.7") {
		t.Fatal("first client's second request should be rejected")
	}
	if !limiter.Allow(ctx, "198.51.100.9") {
		t.Fatal("second client must not be affected by the first client's counters")
	}
}

func TestAllowWindowExpiry(t *testing.T) {
	limiter, mr := newTestLimiter(t, rateLimitConfig{perMinute: 1, perHour: 50, perDay: 200})
	ctx := context.Background()

	if !limiter.Allow(ctx, "203.0.113.7") {
		t.Fatal("first request should be allowed")
	}
	if limiter.Allow(ctx, "203.0.113.7") {
		t.Fatal("second request inside the window should be rejected")
	}

	mr.FastForward(61 * time.Second)

	if !limiter.Allow(ctx, "203.0.113.7") {
		t.Fatal("request after the minute window expired should be allowed")
	}
}

func TestAllowHourWindowOutlastsMinute(t *testing.T) {
	limiter, mr := newTestLimiter(t, rateLimitConfig{perMinute: 5, perHour: 6, perDay: 200})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !limiter.Allow(ctx, "client") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	mr.FastForward(61 * time.Second)

	// Minute window reset, but the hourly counter is at 6 after this call.
	if !limiter.Allow(ctx, "client") {
		t.Fatal("sixth request within the hour should be allowed")
	}
	if limiter.Allow(ctx, "client") {
		t.Fatal("seventh request within the hour should be rejected")
	}
}

func TestAllowFailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	limiter := NewRedisLimiter(rdb, rateLimitConfig{perMinute: 1, perHour: 1, perDay: 1}, nil)

	mr.Close()

	if !limiter.Allow(context.Background(), "203.0.113.7") {
		t.Fatal("an unreachable redis must fail open")
	}
}
