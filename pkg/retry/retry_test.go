package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = errors.New("sentinel")

func fastRetrier(maxAttempts int) *Retrier {
	return New(Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	})
}

func TestClassification(t *testing.T) {
	assert.True(t, IsRetryable(Retryable(errSentinel)))
	assert.False(t, IsRetryable(errSentinel))
	assert.True(t, IsPermanent(Permanent(errSentinel)))
	assert.False(t, IsPermanent(errSentinel))

	// nil не оборачивается.
	assert.NoError(t, Retryable(nil))
	assert.NoError(t, Permanent(nil))

	// Обёртка прозрачна для errors.Is.
	assert.ErrorIs(t, Retryable(errSentinel), errSentinel)
	assert.ErrorIs(t, Permanent(errSentinel), errSentinel)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := fastRetrier(5).Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return Retryable(errSentinel)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanent(t *testing.T) {
	attempts := 0
	err := fastRetrier(5).Do(context.Background(), func(context.Context) error {
		attempts++
		return Permanent(errSentinel)
	})

	assert.Equal(t, 1, attempts)
	// Классификационная обёртка снята: вызывающий видит свой sentinel.
	assert.Equal(t, errSentinel, err)
}

func TestDoReturnsUnclassifiedErrorAsIs(t *testing.T) {
	attempts := 0
	err := fastRetrier(5).Do(context.Background(), func(context.Context) error {
		attempts++
		return errSentinel
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, errSentinel, err)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := fastRetrier(3).Do(context.Background(), func(context.Context) error {
		attempts++
		return Retryable(errSentinel)
	})

	assert.Equal(t, 3, attempts)
	assert.Equal(t, errSentinel, err)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := fastRetrier(100).Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return Retryable(errSentinel)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errSentinel)
	assert.Equal(t, 1, attempts)
}

func TestDoCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := fastRetrier(3).Do(ctx, func(context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestNewNormalizesConfig(t *testing.T) {
	r := New(Config{})
	d := DefaultConfig()

	assert.Equal(t, d.MaxAttempts, r.config.MaxAttempts)
	assert.Equal(t, d.InitialDelay, r.config.InitialDelay)
	assert.Equal(t, d.MaxDelay, r.config.MaxDelay)
	assert.Equal(t, d.Multiplier, r.config.Multiplier)
	// Нулевой джиттер валиден (отключает рандомизацию) и не заменяется.
	assert.Equal(t, 0.0, r.config.JitterFactor)

	// Отрицательный джиттер вне диапазона и заменяется.
	r = New(Config{JitterFactor: -1})
	assert.Equal(t, d.JitterFactor, r.config.JitterFactor)
}

func TestDelayBackoffIsCapped(t *testing.T) {
	r := New(Config{
		MaxAttempts:  10,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	})

	assert.Equal(t, time.Millisecond, r.delay(1))
	assert.Equal(t, 2*time.Millisecond, r.delay(2))
	assert.Equal(t, 4*time.Millisecond, r.delay(3))
	// Дальше рост срезается потолком.
	assert.Equal(t, 4*time.Millisecond, r.delay(7))
}
