package openai

import (
	"context"
	"sync"
	"time"
)

// A token bucket rate limiter. Tokens refill continuously, fractional tokens
// are carried between calls so frequent callers still see the bucket refill.
type rateLimiter struct {
	mu       sync.Mutex // protect access to lastTime and tokens
	lastTime time.Time
	tokens   float64

	window time.Duration
	rate   int

	now func() time.Time
}

// newRateLimiter creates a new rate limiter for the given number of requests
// over the provided time window. E.g. newRateLimiter(10, time.Minute) will
// allow 10 requests over a minute, with up to 10 issued back to back.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		window:   window,
		rate:     rate,
		lastTime: time.Now(),
		tokens:   float64(rate),
		now:      time.Now,
	}
}

// Acquire returns nil once a request may proceed. If the provided context is
// Done first Acquire returns ctx.Err().
func (rl *rateLimiter) Acquire(ctx context.Context) error {
	for {
		wait := rl.tryAcquire()
		if wait == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryAcquire takes a token and returns 0, or returns how long until the next
// token is available.
func (rl *rateLimiter) tryAcquire() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	perToken := rl.window / time.Duration(rl.rate)
	rl.tokens += float64(now.Sub(rl.lastTime)) / float64(perToken)
	rl.tokens = min(rl.tokens, float64(rl.rate))
	rl.lastTime = now

	if rl.tokens < 1 {
		return time.Duration((1 - rl.tokens) * float64(perToken))
	}

	rl.tokens--
	return 0
}
