package register

import (
	"encoding/base64"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonchat/halcyon/internal/store"
	"github.com/halcyonchat/halcyon/internal/wire"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "halcyon.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	return NewService(db, zap.NewNop(), filepath.Join(dir, "avatars"), time.Minute)
}

// capturedCode digs the plaintext answer out of the session map so
// tests can answer the challenge.
func capturedCode(s *Service, sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess.code
	}
	return ""
}

func TestFullSignupFlow(t *testing.T) {
	s := newTestService(t)

	r1 := s.Handle(wire.Envelope{
		"type": "user_register", "subtype": "register_1", "request_id": "a",
	})
	if !r1.OK() {
		t.Fatalf("register_1 = %v", r1)
	}
	username := r1.String("username")
	if !regexp.MustCompile(`^[1-9][0-9]{7,9}$`).MatchString(username) {
		t.Fatalf("username %q out of shape", username)
	}
	if _, err := base64.StdEncoding.DecodeString(r1.String("captcha_image")); err != nil {
		t.Fatalf("captcha_image not base64: %v", err)
	}
	sessionID := r1.String("session_id")

	r2 := s.Handle(wire.Envelope{
		"type": "user_register", "subtype": "register_2", "request_id": "b",
		"session_id": sessionID, "captcha_input": capturedCode(s, sessionID),
	})
	if !r2.OK() || r2.String("username") != username {
		t.Fatalf("register_2 = %v", r2)
	}

	r3 := s.Handle(wire.Envelope{
		"type": "user_register", "subtype": "register_3", "request_id": "c",
		"session_id": sessionID, "password": "Password1",
		"nickname": "Avery", "sign": "hello",
	})
	if !r3.OK() {
		t.Fatalf("register_3 = %v", r3)
	}

	u, err := s.db.GetUser(username)
	if err != nil || u == nil {
		t.Fatalf("user missing after signup: %v", err)
	}
	if u.Name != "Avery" || u.Sign != "hello" {
		t.Errorf("user = %+v", u)
	}

	// Session is consumed.
	r3b := s.Handle(wire.Envelope{
		"type": "user_register", "subtype": "register_3", "request_id": "d",
		"session_id": sessionID, "password": "Password1",
	})
	if r3b.Status() != wire.StatusError {
		t.Errorf("reused session = %v", r3b)
	}
}

func TestWrongCaptchaRegenerates(t *testing.T) {
	s := newTestService(t)

	r1 := s.Handle(wire.Envelope{"type": "user_register", "subtype": "register_1", "request_id": "a"})
	sessionID := r1.String("session_id")
	before := capturedCode(s, sessionID)

	r2 := s.Handle(wire.Envelope{
		"type": "user_register", "subtype": "register_2", "request_id": "b",
		"session_id": sessionID, "captcha_input": "~~~~~~",
	})
	if r2.Status() != wire.StatusFail {
		t.Fatalf("status = %q, want fail", r2.Status())
	}
	if r2.String("captcha_image") == "" {
		t.Error("fail reply must carry a fresh captcha")
	}
	after := capturedCode(s, sessionID)
	if after == "" || after == before {
		t.Error("captcha code should be regenerated after a miss")
	}

	// The old answer is dead even if guessed later.
	r2b := s.Handle(wire.Envelope{
		"type": "user_register", "subtype": "register_2", "request_id": "c",
		"session_id": sessionID, "captcha_input": before,
	})
	if r2b.OK() {
		t.Error("stale captcha answer must not verify")
	}
}

func TestCaptchaVerifyIsCaseInsensitive(t *testing.T) {
	s := newTestService(t)
	r1 := s.Handle(wire.Envelope{"type": "user_register", "subtype": "register_1", "request_id": "a"})
	sessionID := r1.String("session_id")

	lower := ""
	for _, r := range capturedCode(s, sessionID) {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		lower += string(r)
	}
	r2 := s.Handle(wire.Envelope{
		"type": "user_register", "subtype": "register_2", "request_id": "b",
		"session_id": sessionID, "captcha_input": lower,
	})
	if !r2.OK() {
		t.Errorf("lowercase answer rejected: %v", r2)
	}
}

func TestSessionExpiry(t *testing.T) {
	s := newTestService(t)
	r1 := s.Handle(wire.Envelope{"type": "user_register", "subtype": "register_1", "request_id": "a"})
	sessionID := r1.String("session_id")
	code := capturedCode(s, sessionID)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	r2 := s.Handle(wire.Envelope{
		"type": "user_register", "subtype": "register_2", "request_id": "b",
		"session_id": sessionID, "captcha_input": code,
	})
	if r2.Status() != wire.StatusError {
		t.Errorf("expired session = %v", r2)
	}
}

func TestRefreshReplacesCode(t *testing.T) {
	s := newTestService(t)
	r1 := s.Handle(wire.Envelope{"type": "user_register", "subtype": "register_1", "request_id": "a"})
	sessionID := r1.String("session_id")
	before := capturedCode(s, sessionID)

	r4 := s.Handle(wire.Envelope{
		"type": "user_register", "subtype": "register_4", "request_id": "b",
		"session_id": sessionID,
	})
	if !r4.OK() || r4.String("captcha_image") == "" {
		t.Fatalf("register_4 = %v", r4)
	}
	if capturedCode(s, sessionID) == before {
		t.Error("refresh should replace the code")
	}
}

func TestValidPassword(t *testing.T) {
	cases := map[string]bool{
		"Password1": true,
		"password1": false,
		"PASSWORD":  false,
		"Pass1":     false,
		"":          false,
		"A1bcdefg":  true,
	}
	for p, want := range cases {
		if got := ValidPassword(p); got != want {
			t.Errorf("ValidPassword(%q) = %v, want %v", p, got, want)
		}
	}
}
