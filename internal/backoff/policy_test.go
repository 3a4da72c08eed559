package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollPolicyWaits(t *testing.T) {
	tests := []struct {
		name     string
		policy   PollPolicy
		expected []time.Duration
	}{
		{
			name:     "default schedule sums to budget",
			policy:   DefaultPollPolicy(),
			expected: []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second},
		},
		{
			name: "last interval repeats until budget",
			policy: PollPolicy{
				Intervals: []time.Duration{2 * time.Second},
				Budget:    7 * time.Second,
			},
			expected: []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second, time.Second},
		},
		{
			name: "final wait clamped to budget",
			policy: PollPolicy{
				Intervals: []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second},
				Budget:    20 * time.Second,
			},
			expected: []time.Duration{5 * time.Second, 10 * time.Second, 5 * time.Second},
		},
		{
			name:     "zero policy yields nothing",
			policy:   PollPolicy{},
			expected: nil,
		},
		{
			name: "zero budget yields nothing",
			policy: PollPolicy{
				Intervals: []time.Duration{time.Second},
			},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.Waits()
			if len(got) != len(tt.expected) {
				t.Fatalf("Waits() = %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Waits()[%d] = %v, want %v", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestPollPolicyWaitsNeverExceedBudget(t *testing.T) {
	policy := PollPolicy{
		Intervals: []time.Duration{3 * time.Second, 7 * time.Second},
		Budget:    25 * time.Second,
	}
	var total time.Duration
	for _, w := range policy.Waits() {
		total += w
	}
	if total != policy.Budget {
		t.Fatalf("total wait %v, want exactly budget %v", total, policy.Budget)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	result, err := Retry(context.Background(), sleeper, 3, time.Second, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if result.Value != "ok" || result.Attempts != 3 || calls != 3 {
		t.Fatalf("result = %+v, calls = %d", result, calls)
	}
	if len(sleeper.slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(sleeper.slept))
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	sleeper := &recordingSleeper{}
	boom := errors.New("boom")
	result, err := Retry(context.Background(), sleeper, 2, time.Second, func(int) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrMaxAttemptsExhausted", err)
	}
	if !errors.Is(result.LastError, boom) {
		t.Fatalf("LastError = %v, want boom", result.LastError)
	}
}

func TestRetryRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, &recordingSleeper{}, 3, time.Second, func(int) (int, error) {
		t.Fatal("fn should not run with cancelled context")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// recordingSleeper records requested sleeps without actually waiting.
type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.slept = append(s.slept, d)
	return nil
}
