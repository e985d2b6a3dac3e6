package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	policy := Fixed(5 * time.Millisecond)

	attempts := 0
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not ready")
		}
		return nil
	}, nil)

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoBoundedPolicyReturnsLastError(t *testing.T) {
	policy := Policy{Interval: time.Millisecond, MaxAttempts: 2}

	attempts := 0
	wantErr := errors.New("still not ready")
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		return wantErr
	}, nil)

	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	// Initial attempt plus MaxAttempts retries.
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, Fixed(time.Hour), func(ctx context.Context) error {
			return errors.New("never ready")
		}, nil)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestExponentialDelayGrowth(t *testing.T) {
	policy := Exponential(5, 10*time.Millisecond, 40*time.Millisecond)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 40 * time.Millisecond}, // capped
	}

	for _, tc := range cases {
		got, ok := policy.Delay(tc.attempt)
		if !ok {
			t.Fatalf("attempt %d unexpectedly exhausted", tc.attempt)
		}
		if got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}

	if _, ok := policy.Delay(6); ok {
		t.Error("expected attempt 6 to be exhausted")
	}
}

func TestOnRetryReportsAttempts(t *testing.T) {
	policy := Policy{Interval: time.Millisecond, MaxAttempts: 3}

	var reported []int
	Do(context.Background(), policy, func(ctx context.Context) error {
		return errors.New("nope")
	}, func(attempt int, err error) {
		reported = append(reported, attempt)
	})

	if len(reported) != 3 {
		t.Fatalf("expected 3 retry reports, got %d", len(reported))
	}
	for i, attempt := range reported {
		if attempt != i+1 {
			t.Errorf("report %d: expected attempt %d, got %d", i, i+1, attempt)
		}
	}
}
