package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const maxShift = 62

// ErrAttemptsExhausted wraps the last error once a Policy runs out of attempts.
var ErrAttemptsExhausted = errors.New("backoff: attempts exhausted")

// Policy bounds a retry loop.
type Policy struct {
	// Base is the delay before the second attempt.
	Base time.Duration
	// Max caps any single delay. Zero means uncapped.
	Max time.Duration
	// Attempts is the total number of calls, including the first.
	Attempts int
}

// DefaultPolicy is used for connecting to the account store.
var DefaultPolicy = Policy{Base: 200 * time.Millisecond, Max: 5 * time.Second, Attempts: 5}

// Exponential returns base * 2^attempt, saturating at math.MaxInt64.
// Negative attempts count as 0 and non-positive bases yield 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	switch {
	case attempt < 0:
		attempt = 0
	case attempt > maxShift:
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(int64(base) * multiplier)
}

// FullJitter returns a random duration in [0, delay).
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	return time.Duration(rand.Int64N(int64(delay))) // #nosec G404 -- jitter does not need a CSPRNG
}

// Delay returns the jittered wait before attempt+1 under p.
func (p Policy) Delay(attempt int) time.Duration {
	d := Exponential(p.Base, attempt)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}

	return FullJitter(d)
}

// SleepWithContext waits for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

// Retry calls fn until it succeeds, returns a permanent error, the policy
// runs out of attempts, or ctx is done.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error

	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		if i == attempts-1 {
			break
		}

		if sleepErr := SleepWithContext(ctx, p.Delay(i)); sleepErr != nil {
			return errors.Join(sleepErr, err)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempts, err)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Retry stops immediately and returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}
