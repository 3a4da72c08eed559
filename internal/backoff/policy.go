// Package backoff provides the polling and retry policies used when talking
// to the remote allow-list service, with sleeping factored out behind an
// interface so tests can run on a fake clock.
package backoff

import "time"

// PollPolicy describes a bounded polling schedule: a fixed sequence of wait
// intervals and a total time budget. The schedule never exceeds the budget;
// if the intervals are exhausted before the budget, the last interval
// repeats.
type PollPolicy struct {
	// Intervals is the wait applied before each poll attempt, in order.
	Intervals []time.Duration

	// Budget bounds the cumulative wait across all attempts.
	Budget time.Duration
}

// DefaultPollPolicy waits 5s, 10s, then 15s between polls, for a total
// budget of 30 seconds. This matches how long the remote service is
// observed to take resolving an account id before an add completes.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Intervals: []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second},
		Budget:    30 * time.Second,
	}
}

// Waits expands the schedule into the concrete sequence of sleeps, clamped
// so their sum never exceeds the budget. A zero policy yields no waits.
func (p PollPolicy) Waits() []time.Duration {
	if len(p.Intervals) == 0 || p.Budget <= 0 {
		return nil
	}
	var (
		out     []time.Duration
		elapsed time.Duration
	)
	for i := 0; elapsed < p.Budget; i++ {
		interval := p.Intervals[len(p.Intervals)-1]
		if i < len(p.Intervals) {
			interval = p.Intervals[i]
		}
		if interval <= 0 {
			break
		}
		if elapsed+interval > p.Budget {
			interval = p.Budget - elapsed
		}
		out = append(out, interval)
		elapsed += interval
	}
	return out
}
