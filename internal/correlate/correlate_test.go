package correlate

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/halcyonchat/halcyon/internal/wire"
)

func TestOutOfOrderRepliesResolveCorrectCallers(t *testing.T) {
	c := New(time.Second)
	const n = 16

	for i := 0; i < n; i++ {
		if err := c.Track(fmt.Sprintf("req-%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	results := make([]wire.Envelope, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env, err := c.Await(fmt.Sprintf("req-%d", i))
			if err != nil {
				t.Errorf("await req-%d: %v", i, err)
				return
			}
			results[i] = env
		}(i)
	}

	// Fulfill in reverse order.
	for i := n - 1; i >= 0; i-- {
		ok := c.Fulfill(wire.Envelope{
			"request_id": fmt.Sprintf("req-%d", i),
			"seq":        float64(i),
		})
		if !ok {
			t.Errorf("fulfill req-%d returned false", i)
		}
	}
	wg.Wait()

	for i, env := range results {
		if env == nil || env.Int64("seq") != int64(i) {
			t.Errorf("caller %d got %v", i, env)
		}
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", c.PendingCount())
	}
}

func TestTimeoutRemovesSlot(t *testing.T) {
	c := New(50 * time.Millisecond)
	if err := c.Track("r1"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err := c.Await("r1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timed out after %v, far past the deadline", elapsed)
	}
	if c.PendingCount() != 0 {
		t.Error("slot leaked after timeout")
	}
	// A late reply for the abandoned slot is dropped.
	if c.Fulfill(wire.Envelope{"request_id": "r1"}) {
		t.Error("late reply should not match a removed slot")
	}
}

func TestUnknownReplyDropped(t *testing.T) {
	c := New(time.Second)
	if c.Fulfill(wire.Envelope{"request_id": "never-sent"}) {
		t.Error("unknown request_id should not fulfill anything")
	}
	if c.Fulfill(wire.Envelope{"type": "new_message"}) {
		t.Error("envelope without request_id should not fulfill anything")
	}
}

func TestFailAllResolvesPendingAndRejectsNew(t *testing.T) {
	c := New(time.Second)
	if err := c.Track("r1"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Await("r1")
		done <- err
	}()

	cause := errors.New("socket reset")
	c.FailAll(cause)

	select {
	case err := <-done:
		if !errors.Is(err, cause) {
			t.Errorf("err = %v, want %v", err, cause)
		}
	case <-time.After(time.Second):
		t.Fatal("Await did not return after FailAll")
	}

	if err := c.Track("r2"); !errors.Is(err, cause) {
		t.Errorf("Track after FailAll = %v, want %v", err, cause)
	}
}
