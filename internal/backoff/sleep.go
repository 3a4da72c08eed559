package backoff

import (
	"context"
	"time"
)

// Sleeper abstracts waiting so polling loops can run against a fake clock
// in tests.
type Sleeper interface {
	// Sleep waits for the given duration, respecting context
	// cancellation. Returns ctx.Err() if the context ended first.
	Sleep(ctx context.Context, d time.Duration) error
}

// ContextSleeper is the production Sleeper backed by the wall clock.
type ContextSleeper struct{}

func (ContextSleeper) Sleep(ctx context.Context, d time.Duration) error {
	return SleepWithContext(ctx, d)
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// SleepWithContext sleeps for the specified duration, respecting context
// cancellation. Returns nil if the sleep completed, or ctx.Err() if the
// context was cancelled.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
