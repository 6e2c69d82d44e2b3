// Package retry implements a bounded retry loop with exponential backoff and
// jitter. The write side uses it to resolve optimistic-lock conflicts: two
// concurrent actions on the same aggregate race on the version column, the
// loser re-reads and replays.
// No external dependencies - uses only standard library.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryableError marks an error as worth retrying.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the retry loop replays the operation.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err was marked retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// PermanentError marks an error as final: replaying cannot help.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the retry loop stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Config describes the backoff schedule.
type Config struct {
	// MaxAttempts bounds the loop, first attempt included.
	MaxAttempts int

	// InitialDelay is the pause before the first replay.
	InitialDelay time.Duration

	// MaxDelay caps the grown delay.
	MaxDelay time.Duration

	// Multiplier grows the delay after every failed attempt.
	Multiplier float64

	// JitterFactor randomizes each delay by ±factor to de-correlate
	// competing writers (0 disables jitter).
	JitterFactor float64
}

// DefaultConfig returns the schedule used when no overrides are given.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier < 1.0 {
		c.Multiplier = d.Multiplier
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1.0 {
		c.JitterFactor = d.JitterFactor
	}
}

// Retrier replays failed operations per its Config.
type Retrier struct {
	config Config
}

// New creates a Retrier. Zero or out-of-range fields fall back to defaults.
func New(config Config) *Retrier {
	config.normalize()
	return &Retrier{config: config}
}

// OptimisticLockRetrier returns a Retrier tuned for version-column conflicts:
// conflicts resolve within one re-read, so delays are short and jitter is
// high.
func OptimisticLockRetrier() *Retrier {
	return New(Config{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0.5,
	})
}

// Do runs operation until it succeeds, returns a permanent error, returns an
// unclassified error, or attempts run out. Only errors wrapped with Retryable
// are replayed; the classification wrapper is stripped from the final return
// so callers can errors.Is against domain sentinels.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt >= r.config.MaxAttempts {
			return errors.Unwrap(err)
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(r.delay(attempt)):
		}
	}
}

// delay computes the backoff for the given attempt with jitter applied.
func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.JitterFactor > 0 {
		d += d * r.config.JitterFactor * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
