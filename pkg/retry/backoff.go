package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy computes the wait before a retry attempt. Attempt numbers
// are zero-based: attempt 0 is the wait after the first failure.
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	// BaseDelay is the delay after the first failure
	BaseDelay time.Duration
	// MaxDelay caps the computed delay before jitter
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases per attempt
	Multiplier float64
	// JitterFactor adds up to delay*JitterFactor of randomness on top of the
	// computed delay to avoid thundering herd (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates min(BaseDelay * Multiplier^attempt, MaxDelay) plus
// jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.JitterFactor > 0 {
		delay += delay * eb.JitterFactor * rand.Float64()
	}

	return time.Duration(delay)
}

// LinearBackoff increases the delay by a fixed increment per attempt
type LinearBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Increment    time.Duration
	JitterFactor float64
}

// NextDelay calculates the next delay with linear backoff
func (lb *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(lb.BaseDelay + lb.Increment*time.Duration(attempt))
	if delay > float64(lb.MaxDelay) {
		delay = float64(lb.MaxDelay)
	}

	if lb.JitterFactor > 0 {
		delay += delay * lb.JitterFactor * rand.Float64()
	}

	return time.Duration(delay)
}

// ConstantBackoff waits the same delay between every attempt
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	return cb.Delay
}

// Wait blocks the calling goroutine for the given delay or until the context
// is cancelled. This is the subsystem's only suspension point.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
