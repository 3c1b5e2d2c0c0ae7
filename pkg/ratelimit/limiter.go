package ratelimit

import (
	"sync"
	"time"
)

// Limiter paces operation launches
type Limiter interface {
	// Allow checks if an operation may proceed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another operation
	Wait()
	// Reset restores the limiter to its initial state
	Reset()
}

// TokenBucket implements a token bucket rate limiter. The bucket is refilled
// to capacity once per refill period.
type TokenBucket struct {
	capacity     int
	tokens       int
	refillPeriod time.Duration
	lastRefill   time.Time
	mu           sync.Mutex
}

// NewTokenBucket creates a new token bucket rate limiter
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
	}
}

// PerMinute creates a token bucket allowing the given number of operations
// per minute
func PerMinute(operations int) *TokenBucket {
	return NewTokenBucket(operations, time.Minute)
}

// Allow checks if an operation can proceed
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	return false
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait() {
	for !tb.Allow() {
		tb.mu.Lock()
		untilRefill := tb.refillPeriod - time.Since(tb.lastRefill)
		tb.mu.Unlock()

		if untilRefill > 0 {
			time.Sleep(untilRefill)
		}
	}
}

// Reset restores the bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
}

// refill tops the bucket back up if the refill period has elapsed.
// Caller must hold the mutex.
func (tb *TokenBucket) refill() {
	if time.Since(tb.lastRefill) >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = time.Now()
	}
}
