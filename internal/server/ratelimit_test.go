package server

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterEnforcesBudget(t *testing.T) {
	current := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimitConfig{Limit: 3, Window: 2 * time.Hour})
	rl.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		allowed, _, err := rl.Allow(context.Background(), "10.0.0.1")
		if err != nil {
			t.Fatalf("Allow returned error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, retryAfter, err := rl.Allow(context.Background(), "10.0.0.1")
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if allowed {
		t.Fatal("fourth request in the window should be rejected")
	}
	if retryAfter != 2*time.Hour {
		t.Fatalf("expected retry-after of the full window, got %v", retryAfter)
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Limit: 1, Window: time.Hour})

	if allowed, _, _ := rl.Allow(context.Background(), "10.0.0.1"); !allowed {
		t.Fatal("first client should be allowed")
	}
	if allowed, _, _ := rl.Allow(context.Background(), "10.0.0.2"); !allowed {
		t.Fatal("second client has its own budget")
	}
	if allowed, _, _ := rl.Allow(context.Background(), "10.0.0.1"); allowed {
		t.Fatal("first client exceeded its budget")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	current := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimitConfig{Limit: 1, Window: 2 * time.Hour})
	rl.now = func() time.Time { return current }

	if allowed, _, _ := rl.Allow(context.Background(), "10.0.0.1"); !allowed {
		t.Fatal("first request should be allowed")
	}
	if allowed, _, _ := rl.Allow(context.Background(), "10.0.0.1"); allowed {
		t.Fatal("second request in the window should be rejected")
	}

	current = current.Add(2 * time.Hour)
	if allowed, _, _ := rl.Allow(context.Background(), "10.0.0.1"); !allowed {
		t.Fatal("window elapsed, counter should reset")
	}
}

func TestRateLimiterRetryAfterShrinksWithinWindow(t *testing.T) {
	current := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimitConfig{Limit: 1, Window: 2 * time.Hour})
	rl.now = func() time.Time { return current }

	rl.Allow(context.Background(), "10.0.0.1")

	current = current.Add(30 * time.Minute)
	allowed, retryAfter, _ := rl.Allow(context.Background(), "10.0.0.1")
	if allowed {
		t.Fatal("request within the window should be rejected")
	}
	if retryAfter != 90*time.Minute {
		t.Fatalf("expected 90m until reset, got %v", retryAfter)
	}
}

func TestRateLimiterDisabledWhenLimitZero(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Limit: 0, Window: time.Hour})
	for i := 0; i < 100; i++ {
		if allowed, _, _ := rl.Allow(context.Background(), "10.0.0.1"); !allowed {
			t.Fatal("limiter with zero limit must admit everything")
		}
	}
}

func TestRateLimiterEvictsStaleCounters(t *testing.T) {
	current := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rl := newRateLimiter(RateLimitConfig{Limit: 5, Window: time.Hour})
	rl.now = func() time.Time { return current }

	rl.Allow(context.Background(), "stale-client")
	current = current.Add(3 * time.Hour)
	rl.Allow(context.Background(), "fresh-client")

	rl.mu.Lock()
	_, staleExists := rl.counters["stale-client"]
	rl.mu.Unlock()
	if staleExists {
		t.Fatal("counters idle past twice the window should be evicted")
	}
}
