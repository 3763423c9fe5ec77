// Package retry provides retry and polling mechanisms with exponential backoff
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/probectl/probectl/errors"
)

// Operation represents a function that can be retried
type Operation func(ctx context.Context) error

// Condition represents a predicate polled until it reports true
type Condition func(ctx context.Context) (bool, error)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts including the initial attempt
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay increases
	Multiplier float64

	// MaxJitter is the maximum random jitter added to delays
	MaxJitter time.Duration

	// OnRetry is called after each failed attempt
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxJitter:    100 * time.Millisecond,
	}
}

// WithBackoff retries an operation with exponential backoff
func WithBackoff(ctx context.Context, op Operation, cfg Config) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			if err := sleep(ctx, calculateDelay(attempt, cfg)); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		if !errors.IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Poll evaluates a condition repeatedly until it holds, the attempts are
// exhausted, or the context is cancelled. A condition error ends polling
// immediately.
func Poll(ctx context.Context, cond Condition, cfg Config) (bool, error) {
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("polling cancelled: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			if err := sleep(ctx, calculateDelay(attempt, cfg)); err != nil {
				return false, err
			}
		}

		ok, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}

// sleep waits for the given delay unless the context ends first
func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("cancelled during backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// calculateDelay calculates the delay for a given attempt
func calculateDelay(attempt int, cfg Config) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.MaxJitter > 0 {
		delay += float64(cfg.MaxJitter) * rand.Float64()
	}

	return time.Duration(delay)
}
