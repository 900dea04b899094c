package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithOptimisticRetrySucceedsAfterConflict(t *testing.T) {
	attempts := 0
	err := WithOptimisticRetry(context.Background(), 3, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return ErrVersionConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithOptimisticRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := WithOptimisticRetry(context.Background(), 2, func(ctx context.Context) error {
		attempts++
		return ErrVersionConflict
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 2, attempts)
}

func TestWithOptimisticRetryStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0
	err := WithOptimisticRetry(context.Background(), 5, func(ctx context.Context) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestWithOptimisticRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithOptimisticRetry(ctx, 3, func(ctx context.Context) error {
		t.Fatal("fn should not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
