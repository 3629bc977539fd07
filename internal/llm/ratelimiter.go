package llm

import (
	"context"
	"sync"
	"time"
)

// TokenBucketRateLimiter is a token bucket for outgoing requests.
type TokenBucketRateLimiter struct {
	capacity     int
	tokens       int
	refillRate   time.Duration // refill interval
	refillAmount int           // tokens per interval
	lastRefill   time.Time
	mu           sync.Mutex
}

// NewTokenBucketRateLimiter creates a full bucket.
func NewTokenBucketRateLimiter(capacity int, refillInterval time.Duration, refillAmount int) *TokenBucketRateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if refillInterval <= 0 {
		refillInterval = time.Second
	}
	if refillAmount <= 0 {
		refillAmount = 1
	}
	return &TokenBucketRateLimiter{
		capacity:     capacity,
		tokens:       capacity,
		refillRate:   refillInterval,
		refillAmount: refillAmount,
		lastRefill:   time.Now(),
	}
}

// TryAcquire takes a token if one is available. Otherwise it reports how
// long until the next refill.
func (r *TokenBucketRateLimiter) TryAcquire() (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRefill)
	if elapsed >= r.refillRate {
		intervals := int(elapsed / r.refillRate)
		r.tokens = min(r.capacity, r.tokens+intervals*r.refillAmount)
		// keep the remainder so refills stay aligned
		r.lastRefill = now.Add(-elapsed % r.refillRate)
	}

	if r.tokens > 0 {
		r.tokens--
		return true, 0
	}
	return false, r.refillRate - now.Sub(r.lastRefill)
}

// Wait blocks until a token is acquired or ctx is done.
func (r *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait := r.TryAcquire()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Available returns the current number of tokens.
func (r *TokenBucketRateLimiter) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens
}
