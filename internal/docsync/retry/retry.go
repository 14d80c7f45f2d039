// Package retry provides the exponential backoff policy shared by the
// embedding gate and the dual-store writer.
//
// Errors are terminal unless a collaborator marks them transient with
// Transient, or they are network timeouts. Context cancellation always
// stops retrying.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"
)

// Policy holds the backoff parameters.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first (default: 3).
	MaxAttempts int

	// BaseDelay is the delay before the second attempt (default: 1s).
	BaseDelay time.Duration

	// Factor multiplies the delay after every attempt (default: 2.0).
	Factor float64

	// MaxDelay caps the computed delay before jitter (default: 30s).
	MaxDelay time.Duration

	// Jitter is the +/- fraction applied to each delay, in [0, 1] (default: 0.2).
	Jitter float64

	// Rand returns a value in [0, 1). Nil uses math/rand.
	Rand func() float64

	// Sleep waits for d or until ctx ends. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Factor:      2.0,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// NextDelay returns the wait before the attempt following attempt (1-based).
//
// The delay is BaseDelay * Factor^(attempt-1), capped at MaxDelay, then
// spread by +/- Jitter. It never returns a negative duration.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if j := clamp01(p.Jitter); j > 0 {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		// Map r in [0,1) onto [-j, +j).
		delay += delay * j * (2*r() - 1)
	}

	if delay < 0 || math.IsNaN(delay) {
		return 0
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Notify is called before each retry with the failed attempt number,
// the error and the delay about to be waited.
type Notify func(attempt int, err error, delay time.Duration)

// Do calls fn until it succeeds, returns a terminal error, the attempt
// budget is spent, or ctx ends. The last error is returned wrapped in
// *ExhaustedError when every attempt failed transiently.
func Do(ctx context.Context, p Policy, notify Notify, fn func(ctx context.Context) error) error {
	limit := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == limit {
			break
		}

		delay := p.NextDelay(attempt)
		if notify != nil {
			notify(attempt, lastErr, delay)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return &ExhaustedError{Attempts: limit, Err: lastErr}
}

// ExhaustedError reports that every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// transientError marks a collaborator error as safe to retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. Transient(nil) is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

func clamp01(f float64) float64 {
	switch {
	case f < 0 || math.IsNaN(f):
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
