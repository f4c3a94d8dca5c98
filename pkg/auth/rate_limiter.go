package auth

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// RateLimiter is a token bucket. The bucket starts full, drains one
// token per allowed request and refills continuously at the configured
// rate.
type RateLimiter struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	capacity int64   // maximum token capacity
	tokens   float64 // current token count
	last     time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per interval.
func NewRateLimiter(rate int64, interval time.Duration) *RateLimiter {
	if rate <= 0 || interval <= 0 {
		panic("rate and interval must be positive")
	}

	return &RateLimiter{
		rate:     float64(rate) / interval.Seconds(),
		capacity: rate,
		tokens:   float64(rate),
		last:     time.Now(),
	}
}

// NewRateLimiterFromConfig builds the limiter described by the
// auth.rate_limit and auth.rate_window config keys. A missing or
// non-positive auth.rate_limit disables limiting and returns nil.
func NewRateLimiterFromConfig() *RateLimiter {
	rate := viper.GetInt64("auth.rate_limit")
	if rate <= 0 {
		return nil
	}

	window := viper.GetDuration("auth.rate_window")
	if window <= 0 {
		window = time.Minute
	}

	return NewRateLimiter(rate, window)
}

// Allow reports whether a request may proceed, consuming one token
// when it does.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.last).Seconds()
	rl.last = now

	rl.tokens = min(float64(rl.capacity), rl.tokens+elapsed*rl.rate)

	if rl.tokens < 1.0 {
		return false
	}

	rl.tokens--
	return true
}

// WaitTime returns the time until the next token becomes available.
func (rl *RateLimiter) WaitTime() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.tokens >= 1.0 {
		return 0
	}

	needed := (1.0 - rl.tokens) / rl.rate
	return time.Duration(needed * float64(time.Second))
}

// Wait blocks until a token is available or the context is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}

		timer := time.NewTimer(rl.WaitTime())

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset refills the bucket to capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = float64(rl.capacity)
	rl.last = time.Now()
}
