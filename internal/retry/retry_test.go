package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 5, Sleep: func(context.Context, time.Duration) error { return nil }}
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoReturnsLastError(t *testing.T) {
	want := errors.New("refused")
	var delays []time.Duration
	p := Fixed(4, 2*time.Second)
	p.Sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	err := p.Do(context.Background(), func() error { return want })
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
	// No sleep after the final attempt.
	if len(delays) != 3 {
		t.Errorf("slept %d times, want 3", len(delays))
	}
	for _, d := range delays {
		if d != 2*time.Second {
			t.Errorf("delay = %v, want 2s", d)
		}
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Fixed(3, time.Hour)
	err := p.Do(ctx, func() error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
