package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been
// exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// RetryResult holds the result of a retry operation.
type RetryResult[T any] struct {
	// Value is the successful result value.
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// LastError is the last error encountered, if any.
	LastError error
}

// Retry executes fn up to maxAttempts times, sleeping delay between
// attempts via the given Sleeper. fn receives the 1-indexed attempt number.
// Context cancellation is checked between attempts.
func Retry[T any](
	ctx context.Context,
	sleeper Sleeper,
	maxAttempts int,
	delay time.Duration,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	var result RetryResult[T]
	var lastErr error
	if sleeper == nil {
		sleeper = ContextSleeper{}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = lastErr
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}

		lastErr = err
		result.LastError = err

		// No sleep after the last attempt.
		if attempt < maxAttempts {
			if err := sleeper.Sleep(ctx, delay); err != nil {
				return result, err
			}
		}
	}

	return result, ErrMaxAttemptsExhausted
}
