// Package retry expresses the client's reconnect policy as data so it
// can be tested without real delays.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry loop.
type Policy struct {
	MaxAttempts int
	// Backoff returns the delay before the given attempt (1-based).
	// A nil Backoff means no delay.
	Backoff func(attempt int) time.Duration
	// Sleep is replaceable in tests. Nil means a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Backoff:     func(int) time.Duration { return delay },
	}
}

// Do invokes fn up to MaxAttempts times, sleeping between attempts.
// The last error is returned when every attempt fails; ctx cancellation
// aborts the loop early.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		var d time.Duration
		if p.Backoff != nil {
			d = p.Backoff(attempt)
		}
		if serr := sleep(ctx, d); serr != nil {
			return serr
		}
	}
	return err
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
