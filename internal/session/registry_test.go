package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/halcyonchat/halcyon/internal/netconn"
	"github.com/halcyonchat/halcyon/internal/wire"
)

func TestRegisterRejectsSecondLogin(t *testing.T) {
	r := NewRegistry()
	a, b := &netconn.Conn{}, &netconn.Conn{}

	if err := r.Register("alice", a); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("alice", b); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Errorf("err = %v, want ErrAlreadyLoggedIn", err)
	}
	if c, _ := r.Lookup("alice"); c != a {
		t.Error("first session should still own the name")
	}
}

func TestConcurrentLoginsOneWinner(t *testing.T) {
	r := NewRegistry()
	const n = 32
	var wins, losses int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Register("alice", &netconn.Conn{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, ErrAlreadyLoggedIn) {
				losses++
			}
		}()
	}
	wg.Wait()
	if wins != 1 || losses != n-1 {
		t.Errorf("wins = %d, losses = %d; want 1 and %d", wins, losses, n-1)
	}
}

func TestUnregisterOnlyByOwner(t *testing.T) {
	r := NewRegistry()
	owner, stranger := &netconn.Conn{}, &netconn.Conn{}
	if err := r.Register("bob", owner); err != nil {
		t.Fatal(err)
	}

	if r.Unregister("bob", stranger) {
		t.Error("stranger connection must not evict the session")
	}
	if !r.Online("bob") {
		t.Error("bob should still be online")
	}
	if !r.Unregister("bob", owner) {
		t.Error("owner unregister should succeed")
	}
	if r.Unregister("bob", owner) {
		t.Error("second unregister should be a no-op")
	}
	if r.Online("bob") {
		t.Error("bob should be offline")
	}
}

func TestPushToOfflineUserIsNoop(t *testing.T) {
	r := NewRegistry()
	if err := r.Push("ghost", wire.Envelope{"type": "new_message"}); err != nil {
		t.Errorf("push to offline user: %v", err)
	}
}
