package server

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig controls the per-client fixed-window request limiter.
type RateLimitConfig struct {
	// Limit is the maximum number of requests per client key within one
	// window. Zero or negative disables limiting.
	Limit int
	// Window is the fixed counting window. Defaults to two hours.
	Window time.Duration

	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
}

// DefaultWindow matches the production rate policy of one small budget per
// two-hour window.
const DefaultWindow = 2 * time.Hour

type counterStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
	Ping(ctx context.Context) error
}

type windowCounter struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

// rateLimiter admits requests using fixed-window counting per client key.
// Counters are shared across requests; increments hold the mutex so racing
// requests from the same client never lose updates.
type rateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]*windowCounter

	store counterStore
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	rl := &rateLimiter{
		limit:    cfg.Limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string]*windowCounter),
	}
	if cfg.RedisAddr != "" && cfg.Limit > 0 {
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		rl.store = newRedisStore(cfg.RedisAddr, cfg.RedisPassword, timeout)
	}
	return rl
}

// Allow reports whether the client key may proceed, and when rejected, how
// long until its window resets. The check is O(1) per call.
func (r *rateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.limit <= 0 {
		return true, 0, nil
	}
	if key == "" {
		key = "unknown"
	}
	if r.store != nil {
		return r.store.Allow(ctx, "mediagate:upload:"+key, r.limit, r.window)
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	counter, exists := r.counters[key]
	if !exists || now.Sub(counter.windowStart) >= r.window {
		counter = &windowCounter{windowStart: now}
		r.counters[key] = counter
	}
	counter.count++
	counter.lastSeen = now
	r.cleanupLocked(now)

	if counter.count <= r.limit {
		return true, 0, nil
	}
	retryAfter := r.window - now.Sub(counter.windowStart)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter, nil
}

// Limit exposes the configured per-window budget for error reporting.
func (r *rateLimiter) Limit() int { return r.limit }

// Window exposes the configured window for error reporting.
func (r *rateLimiter) Window() time.Duration { return r.window }

// Ping verifies the distributed counter store when one is configured.
func (r *rateLimiter) Ping(ctx context.Context) error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Ping(ctx)
}

func (r *rateLimiter) cleanupLocked(now time.Time) {
	if len(r.counters) == 0 {
		return
	}
	cutoff := now.Add(-2 * r.window)
	for key, counter := range r.counters {
		if counter.lastSeen.Before(cutoff) {
			delete(r.counters, key)
		}
	}
}
