package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1_700_000_040, 0)

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(context.Background(), "1.2.3.4", 3, now)
		if err != nil {
			t.Fatalf("allow #%d: %v", i+1, err)
		}
		if !res.Allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
		if res.Remaining != 3-i-1 {
			t.Fatalf("attempt %d remaining = %d", i+1, res.Remaining)
		}
	}

	res, err := limiter.Allow(context.Background(), "1.2.3.4", 3, now)
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if res.Allowed {
		t.Fatal("fourth attempt in window should be denied")
	}

	// A different key stays unaffected.
	res, err = limiter.Allow(context.Background(), "5.6.7.8", 3, now)
	if err != nil {
		t.Fatalf("allow other key: %v", err)
	}
	if !res.Allowed {
		t.Fatal("other key should be allowed")
	}

	// The counter resets in the next window.
	res, err = limiter.Allow(context.Background(), "1.2.3.4", 3, now.Add(61*time.Second))
	if err != nil {
		t.Fatalf("allow next window: %v", err)
	}
	if !res.Allowed {
		t.Fatal("next window should reset the counter")
	}
}

func TestMemoryLimiter_ZeroLimitDisables(t *testing.T) {
	limiter := NewMemoryLimiter()
	res, err := limiter.Allow(context.Background(), "1.2.3.4", 0, time.Now())
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !res.Allowed {
		t.Fatal("zero limit should disable limiting")
	}
}
