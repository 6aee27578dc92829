// Package ratelimit provides fixed-window limiters used to throttle admin
// login attempts.
package ratelimit

import (
	"context"
	"time"
)

// windowSeconds is the fixed window length for login attempt counting.
const windowSeconds = 60

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter provides rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}

// window returns the window index and reset time for the given instant.
func window(now time.Time) (int64, time.Time) {
	idx := now.Unix() / windowSeconds
	reset := time.Unix((idx+1)*windowSeconds, 0).UTC()
	return idx, reset
}
