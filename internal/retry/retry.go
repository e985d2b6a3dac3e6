// Package retry provides the retry policy used for transient RPC failures.
package retry

import (
	"context"
	"time"
)

// Policy describes how an operation is retried. The zero value retries
// forever at a fixed 1 second interval, which matches nodes whose most
// recent blocks are not yet queryable.
type Policy struct {
	// Interval is the delay before the first retry. Defaults to 1s.
	Interval time.Duration `json:"interval"`

	// Multiplier grows the delay between attempts. Values <= 1 keep the
	// interval fixed.
	Multiplier float64 `json:"multiplier"`

	// MaxDelay caps the delay when Multiplier is set. 0 means no cap.
	MaxDelay time.Duration `json:"max_delay"`

	// MaxAttempts limits retries. 0 means retry forever.
	MaxAttempts int `json:"max_attempts"`
}

// Fixed returns a policy that retries forever at the given interval.
func Fixed(interval time.Duration) Policy {
	return Policy{Interval: interval}
}

// Exponential returns a bounded exponential backoff policy.
func Exponential(maxAttempts int, initial, max time.Duration) Policy {
	return Policy{
		Interval:    initial,
		Multiplier:  2,
		MaxDelay:    max,
		MaxAttempts: maxAttempts,
	}
}

// Delay returns the delay before the given retry attempt (1-based) and
// whether another attempt is allowed.
func (p Policy) Delay(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}

	d := p.Interval
	if d <= 0 {
		d = time.Second
	}

	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				d = p.MaxDelay
				break
			}
		}
	}

	return d, true
}

// Do runs fn, retrying per the policy on non-nil errors. Each failed attempt
// is reported through onRetry before the wait, if provided. Context
// cancellation aborts the wait and returns the context error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	var attempt int
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		attempt++
		delay, ok := p.Delay(attempt)
		if !ok {
			return err
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
