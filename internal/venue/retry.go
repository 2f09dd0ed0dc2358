package venue

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
)

const defaultAttempts = 3

// callWithRetry runs fn up to attempts times with exponential backoff.
// Context cancellation aborts immediately; everything else is treated as
// transient up to the attempt cap.
func callWithRetry[T any](ctx context.Context, attempts int, fn func() (T, error)) (T, error) {
	var zero T
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return zero, lastErr
}
