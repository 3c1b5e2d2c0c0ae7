package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "propscan/pkg/errors"
	"propscan/pkg/logger"
)

// Operation is a function that performs an operation that might need retrying
type Operation func() error

// OperationWithResult is a function that returns a result and might need retrying
type OperationWithResult[T any] func() (T, error)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts
	MaxAttempts int
	// Backoff strategy to use
	Backoff BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each retry wait
	OnRetry func(attempt int, err error, delay time.Duration)
	// Context for cancellation of the backoff wait
	Context context.Context
	// Logger for retry attempts
	Logger logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     ClassifierRetryIf(errs.NewClassifier()),
		Context:     context.Background(),
		Logger:      logger.GetLogger(),
	}
}

// ClassifierRetryIf builds a retry predicate from an error classifier:
// transient errors retry, everything else propagates immediately.
func ClassifierRetryIf(classifier *errs.Classifier) func(error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}
		return classifier.Classify(err) == errs.ClassificationTransient
	}
}

// Do executes an operation, retrying transient failures with backoff until
// it succeeds or the attempt budget is exhausted.
func Do(op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = ClassifierRetryIf(errs.NewClassifier())
	}

	var lastErr error

	for attempt := 1; ; attempt++ {
		if cfg.MaxAttempts > 0 && attempt > cfg.MaxAttempts {
			if cfg.Logger != nil {
				cfg.Logger.ErrorWithFields("max retry attempts exceeded", map[string]interface{}{
					"attempts":   attempt - 1,
					"last_error": lastErr.Error(),
				})
			}
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
		}

		err := op()
		if err == nil {
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}

		lastErr = err

		if !retryIf(err) {
			if cfg.Logger != nil {
				cfg.Logger.DebugWithFields("error is not retryable", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return err
		}

		delay := cfg.Backoff.NextDelay(attempt - 1)

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		if cfg.Logger != nil {
			cfg.Logger.WarnWithFields("retrying operation", map[string]interface{}{
				"attempt":      attempt,
				"error":        err.Error(),
				"category":     categoryOf(err),
				"delay_ms":     delay.Milliseconds(),
				"max_attempts": cfg.MaxAttempts,
			})
		}

		if err := Wait(ctx, delay); err != nil {
			if cfg.Logger != nil {
				cfg.Logger.WarnWithFields("retry cancelled", map[string]interface{}{
					"attempt": attempt,
					"reason":  err.Error(),
				})
			}
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](op OperationWithResult[T], cfg *Config) (T, error) {
	var result T

	err := Do(func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, cfg)

	return result, err
}

func categoryOf(err error) string {
	var opErr *errs.Error
	if errors.As(err, &opErr) {
		return string(opErr.Category)
	}
	return string(errs.CategoryUnknown)
}

// Retrier is the stateful counterpart of Do for callers that need imperative
// control over the suspension point. Typical loop:
//
//	r := retry.NewRetrier(cfg)
//	for r.ShouldRetry() {
//		err := operation()
//		if err == nil {
//			r.MarkSuccess()
//			break
//		}
//		if !r.HandleError(err) {
//			break
//		}
//		retry.Wait(ctx, r.Delay())
//	}
type Retrier struct {
	config  *Config
	attempt int
	lastErr error
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(cfg *Config) *Retrier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = ClassifierRetryIf(errs.NewClassifier())
	}
	return &Retrier{config: cfg}
}

// ShouldRetry reports whether the attempt budget allows another attempt
func (r *Retrier) ShouldRetry() bool {
	return r.config.MaxAttempts <= 0 || r.attempt < r.config.MaxAttempts
}

// HandleError records a failed attempt and reports whether the caller should
// retry: the error must be retryable and budget must remain.
func (r *Retrier) HandleError(err error) bool {
	r.attempt++
	r.lastErr = err
	if !r.config.RetryIf(err) {
		return false
	}
	return r.ShouldRetry()
}

// Delay returns the backoff delay for the current attempt
func (r *Retrier) Delay() time.Duration {
	if r.attempt == 0 {
		return 0
	}
	return r.config.Backoff.NextDelay(r.attempt - 1)
}

// MarkSuccess resets the retrier for reuse
func (r *Retrier) MarkSuccess() {
	r.attempt = 0
	r.lastErr = nil
}

// Attempts returns the number of failed attempts recorded so far
func (r *Retrier) Attempts() int {
	return r.attempt
}

// LastError returns the most recent error handed to HandleError
func (r *Retrier) LastError() error {
	return r.lastErr
}
