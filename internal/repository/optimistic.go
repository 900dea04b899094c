package repository

import (
	"context"
	"errors"
	"fmt"
)

// ErrVersionConflict signals that a versioned write lost a race with a
// concurrent writer and the caller should re-fetch and reapply.
var ErrVersionConflict = errors.New("version conflict")

// WithOptimisticRetry runs fn, retrying with re-fetch-and-reapply semantics
// while it returns ErrVersionConflict, up to maxAttempts. Any other error
// aborts immediately; exhaustion surfaces the conflict to the caller.
func WithOptimisticRetry(ctx context.Context, maxAttempts int, fn func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("optimistic retry exhausted after %d attempts: %w", maxAttempts, err)
}
