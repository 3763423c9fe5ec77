package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probectl/probectl/errors"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithBackoffSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrHostUnreachable, "not yet")
		}
		return nil
	}, fastConfig(5))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New(errors.ErrHostUnreachable, "down")
	}, fastConfig(3))
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffNonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New(errors.ErrConfig, "bad config")
	}, fastConfig(5))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errors.ErrConfig, errors.GetCode(err))
}

func TestWithBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := WithBackoff(ctx, func(ctx context.Context) error {
		calls++
		return errors.New(errors.ErrHostUnreachable, "down")
	}, fastConfig(10))
	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestPoll(t *testing.T) {
	calls := 0
	ok, err := Poll(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 2, nil
	}, fastConfig(5))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, calls)

	ok, err = Poll(context.Background(), func(ctx context.Context) (bool, error) {
		return false, nil
	}, fastConfig(3))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPollConditionError(t *testing.T) {
	boom := errors.New(errors.ErrUnknown, "probe broke")
	ok, err := Poll(context.Background(), func(ctx context.Context) (bool, error) {
		return false, boom
	}, fastConfig(5))
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestCalculateDelayCapped(t *testing.T) {
	cfg := Config{InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2.0}
	assert.Equal(t, time.Millisecond, calculateDelay(1, cfg))
	assert.Equal(t, 2*time.Millisecond, calculateDelay(2, cfg))
	assert.Equal(t, 4*time.Millisecond, calculateDelay(3, cfg))
	assert.Equal(t, 4*time.Millisecond, calculateDelay(4, cfg))
}
