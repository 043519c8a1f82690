// Package retry provides bounded retry with backoff for outbound calls.
// This is part of the platform layer and contains no business logic.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do runs fn up to attempts times, waiting attempt²·baseDelay between tries.
// It stops early when fn succeeds or the context is cancelled. Callers decide
// what counts as retryable; fn should return nil for answers that are final.
func Do(ctx context.Context, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%s: %w", name, lastErr)
}
