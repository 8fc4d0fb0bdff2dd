// Package register implements the four-step account signup flow:
// username + captcha issue, captcha verify, credential submit, and
// captcha refresh. State lives in short-lived in-memory sessions.
package register

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/halcyonchat/halcyon/internal/captcha"
	"github.com/halcyonchat/halcyon/internal/store"
	"github.com/halcyonchat/halcyon/internal/wire"
)

// MaxAvatarSize bounds the decoded avatar payload at signup.
const MaxAvatarSize = 2 << 20

type captchaSession struct {
	username  string
	code      string
	createdAt time.Time
	verified  bool
}

// Service owns the signup sessions and their expiry.
type Service struct {
	db        *store.DB
	log       *zap.Logger
	avatarDir string
	ttl       time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*captchaSession
}

// NewService creates the signup service. A non-positive ttl defaults
// to five minutes.
func NewService(db *store.DB, log *zap.Logger, avatarDir string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		db:        db,
		log:       log,
		avatarDir: avatarDir,
		ttl:       ttl,
		now:       time.Now,
		sessions:  make(map[string]*captchaSession),
	}
}

// Handle processes one user_register request and returns the reply.
func (s *Service) Handle(env wire.Envelope) wire.Envelope {
	subtype := env.String("subtype")
	requestID := env.RequestID()
	sessionID := env.String("session_id")
	if sessionID == "" {
		sessionID = randomSessionID()
	}

	s.sweepExpired()

	switch subtype {
	case "register_1":
		return s.stageIssue(subtype, requestID, sessionID)
	case "register_2":
		return s.stageVerify(env, subtype, requestID, sessionID)
	case "register_3":
		return s.stageSubmit(env, subtype, requestID, sessionID)
	case "register_4":
		return s.stageRefresh(subtype, requestID, sessionID)
	}
	return s.reply(subtype, requestID, wire.StatusError, "unknown register subtype")
}

func (s *Service) stageIssue(subtype, requestID, sessionID string) wire.Envelope {
	username, err := s.generateUsername()
	if err != nil {
		s.log.Error("generate username", zap.Error(err))
		return s.reply(subtype, requestID, wire.StatusError, "failed to generate username")
	}
	code, img, err := newCaptcha()
	if err != nil {
		s.log.Error("generate captcha", zap.Error(err))
		return s.reply(subtype, requestID, wire.StatusError, "failed to generate captcha")
	}

	s.mu.Lock()
	s.sessions[sessionID] = &captchaSession{
		username:  username,
		code:      code,
		createdAt: s.now(),
	}
	s.mu.Unlock()

	resp := s.reply(subtype, requestID, wire.StatusSuccess, "")
	resp["username"] = username
	resp["captcha_image"] = img
	resp["session_id"] = sessionID
	return resp
}

func (s *Service) stageVerify(env wire.Envelope, subtype, requestID, sessionID string) wire.Envelope {
	input := env.String("captcha_input")
	if input == "" {
		return s.reply(subtype, requestID, wire.StatusError, "captcha input missing")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return s.reply(subtype, requestID, wire.StatusError, "invalid session")
	}
	if s.expired(sess) {
		delete(s.sessions, sessionID)
		return s.reply(subtype, requestID, wire.StatusError, "session expired")
	}

	if !equalsFold(input, sess.code) {
		// Wrong answer burns the captcha; issue a fresh one.
		code, img, err := newCaptcha()
		if err != nil {
			s.log.Error("regenerate captcha", zap.Error(err))
			return s.reply(subtype, requestID, wire.StatusError, "failed to generate captcha")
		}
		sess.code = code
		sess.createdAt = s.now()
		resp := s.reply(subtype, requestID, wire.StatusFail, "captcha mismatch")
		resp["captcha_image"] = img
		resp["session_id"] = sessionID
		return resp
	}

	sess.verified = true
	resp := s.reply(subtype, requestID, wire.StatusSuccess, "captcha verified")
	resp["username"] = sess.username
	resp["session_id"] = sessionID
	return resp
}

func (s *Service) stageSubmit(env wire.Envelope, subtype, requestID, sessionID string) wire.Envelope {
	password := env.String("password")
	if !ValidPassword(password) {
		return s.reply(subtype, requestID, wire.StatusError,
			"password must be at least 8 characters with an uppercase letter and a digit")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || !sess.verified {
		return s.reply(subtype, requestID, wire.StatusError, "invalid or unverified session")
	}
	if s.expired(sess) {
		delete(s.sessions, sessionID)
		return s.reply(subtype, requestID, wire.StatusError, "session expired")
	}

	var avatarID, avatarPath string
	if data := env.String("avatar_data"); data != "" {
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return s.reply(subtype, requestID, wire.StatusError, "avatar data is not valid base64")
		}
		if len(raw) > MaxAvatarSize {
			return s.reply(subtype, requestID, wire.StatusError, "avatar must not exceed 2MB")
		}
		avatarID = fmt.Sprintf("%s_avatar_%s.jpg", sess.username, s.now().Format("20060102150405.000000000"))
		avatarPath = filepath.Join(s.avatarDir, avatarID)
		if err := os.MkdirAll(s.avatarDir, 0700); err == nil {
			err = os.WriteFile(avatarPath, raw, 0600)
		}
		if err != nil {
			s.log.Error("save avatar", zap.Error(err))
			avatarID, avatarPath = "", ""
		}
	}

	err := s.db.CreateUser(&store.User{
		Username:   sess.username,
		Password:   password,
		AvatarID:   avatarID,
		AvatarPath: avatarPath,
		Name:       env.String("nickname"),
		Sign:       env.String("sign"),
	})
	if err != nil {
		s.log.Error("create user", zap.String("username", sess.username), zap.Error(err))
		return s.reply(subtype, requestID, wire.StatusError, "registration failed")
	}
	delete(s.sessions, sessionID)

	resp := s.reply(subtype, requestID, wire.StatusSuccess, "registered")
	resp["username"] = sess.username
	return resp
}

func (s *Service) stageRefresh(subtype, requestID, sessionID string) wire.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return s.reply(subtype, requestID, wire.StatusError, "invalid session")
	}
	if s.expired(sess) {
		delete(s.sessions, sessionID)
		return s.reply(subtype, requestID, wire.StatusError, "session expired")
	}

	code, img, err := newCaptcha()
	if err != nil {
		s.log.Error("regenerate captcha", zap.Error(err))
		return s.reply(subtype, requestID, wire.StatusError, "failed to generate captcha")
	}
	sess.code = code
	sess.createdAt = s.now()

	resp := s.reply(subtype, requestID, wire.StatusSuccess, "")
	resp["captcha_image"] = img
	resp["session_id"] = sessionID
	return resp
}

func (s *Service) reply(subtype, requestID, status, message string) wire.Envelope {
	resp := wire.Envelope{
		"type":       wire.TypeUserRegister,
		"subtype":    subtype,
		"status":     status,
		"request_id": requestID,
	}
	if message != "" {
		resp["message"] = message
	}
	return resp
}

func (s *Service) expired(sess *captchaSession) bool {
	return s.now().Sub(sess.createdAt) > s.ttl
}

func (s *Service) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
		}
	}
}

// generateUsername draws random 8 to 10 digit usernames, first digit
// nonzero, until one is free.
func (s *Service) generateUsername() (string, error) {
	for {
		length, err := randInt(3)
		if err != nil {
			return "", err
		}
		length += 8
		first, err := randInt(9)
		if err != nil {
			return "", err
		}
		digits := make([]byte, length)
		digits[0] = byte('1' + first)
		for i := 1; i < length; i++ {
			d, err := randInt(10)
			if err != nil {
				return "", err
			}
			digits[i] = byte('0' + d)
		}
		username := string(digits)

		taken, err := s.db.UserExists(username)
		if err != nil {
			return "", err
		}
		if !taken {
			return username, nil
		}
	}
}

// ValidPassword enforces the signup policy: at least 8 characters
// with an uppercase letter and a digit.
func ValidPassword(p string) bool {
	if len(p) < 8 {
		return false
	}
	var hasUpper, hasDigit bool
	for _, r := range p {
		if unicode.IsUpper(r) {
			hasUpper = true
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
	}
	return hasUpper && hasDigit
}

func newCaptcha() (code, imageBase64 string, err error) {
	code, err = captcha.NewCode()
	if err != nil {
		return "", "", err
	}
	png, err := captcha.Render(code)
	if err != nil {
		return "", "", err
	}
	return code, base64.StdEncoding.EncodeToString(png), nil
}

func equalsFold(input, code string) bool {
	if len(input) != len(code) {
		return false
	}
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c != code[i] {
			return false
		}
	}
	return true
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func randomSessionID() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "100000"
	}
	return fmt.Sprintf("%d", 100000+n.Int64())
}
