package client

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/halcyonchat/halcyon/internal/transfer"
	"github.com/halcyonchat/halcyon/internal/wire"
)

// replyError turns a non-success reply into an error carrying the
// server's message.
func replyError(env wire.Envelope) error {
	msg := env.String("message")
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Errorf("%s: %s", env.Type(), msg)
}

// Authenticate logs the user in. On success the server follows up with
// a friend_list_update push, which lands on the bus.
func (l *Link) Authenticate(username, password string) error {
	resp, err := l.Request(wire.Envelope{
		"type":     wire.TypeAuthenticate,
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return replyError(resp)
	}
	return nil
}

// Registration is the state carried between signup steps.
type Registration struct {
	SessionID    string
	Username     string
	CaptchaImage []byte
}

func decodeCaptcha(resp wire.Envelope) []byte {
	img, err := base64.StdEncoding.DecodeString(resp.String("captcha_image"))
	if err != nil {
		return nil
	}
	return img
}

// RegisterBegin starts a signup: the server assigns a username and a
// captcha challenge.
func (l *Link) RegisterBegin() (*Registration, error) {
	resp, err := l.Request(wire.Envelope{
		"type":    wire.TypeUserRegister,
		"subtype": "register_1",
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, replyError(resp)
	}
	return &Registration{
		SessionID:    resp.String("session_id"),
		Username:     resp.String("username"),
		CaptchaImage: decodeCaptcha(resp),
	}, nil
}

// RegisterVerify submits the captcha answer. A wrong answer returns
// false along with a fresh challenge on reg.CaptchaImage.
func (l *Link) RegisterVerify(reg *Registration, input string) (bool, error) {
	resp, err := l.Request(wire.Envelope{
		"type":          wire.TypeUserRegister,
		"subtype":       "register_2",
		"session_id":    reg.SessionID,
		"captcha_input": input,
	})
	if err != nil {
		return false, err
	}
	switch resp.Status() {
	case wire.StatusSuccess:
		return true, nil
	case wire.StatusFail:
		reg.CaptchaImage = decodeCaptcha(resp)
		return false, nil
	}
	return false, replyError(resp)
}

// RegisterSubmit finishes the signup with credentials and an optional
// avatar.
func (l *Link) RegisterSubmit(reg *Registration, password, nickname, sign string, avatar []byte) error {
	env := wire.Envelope{
		"type":       wire.TypeUserRegister,
		"subtype":    "register_3",
		"session_id": reg.SessionID,
		"password":   password,
		"nickname":   nickname,
		"sign":       sign,
	}
	if len(avatar) > 0 {
		env["avatar_data"] = base64.StdEncoding.EncodeToString(avatar)
	}
	resp, err := l.Request(env)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return replyError(resp)
	}
	return nil
}

// RegisterRefresh swaps the captcha for a new one.
func (l *Link) RegisterRefresh(reg *Registration) error {
	resp, err := l.Request(wire.Envelope{
		"type":       wire.TypeUserRegister,
		"subtype":    "register_4",
		"session_id": reg.SessionID,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return replyError(resp)
	}
	reg.CaptchaImage = decodeCaptcha(resp)
	return nil
}

// SendMessage delivers a text message and returns its row id.
func (l *Link) SendMessage(to, text string, replyTo int64) (int64, error) {
	env := wire.Envelope{
		"type":    wire.TypeSendMessage,
		"to":      to,
		"message": text,
	}
	if replyTo != 0 {
		env["reply_to"] = replyTo
	}
	resp, err := l.Request(env)
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return 0, replyError(resp)
	}
	return resp.Int64("rowid"), nil
}

// SendMediaFile streams path to the server in chunks and returns the
// finalize reply, which carries the file_id and row id.
func (l *Link) SendMediaFile(to, path, fileType, caption string, replyTo int64) (wire.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	base := wire.Envelope{
		"type":      wire.TypeSendMedia,
		"to":        to,
		"file_name": filepath.Base(path),
		"file_type": fileType,
		"message":   caption,
	}
	if replyTo != 0 {
		base["reply_to"] = replyTo
	}
	resp, err := transfer.Upload(l, base, f, info.Size())
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, replyError(resp)
	}
	return resp, nil
}

// Download fetches the named files into the configured download
// directory. Each file succeeds or fails on its own.
func (l *Link) Download(downloadType string, fileIDs []string) []transfer.FileResult {
	return transfer.Fetch(l, downloadType, l.opts.DownloadDir, fileIDs)
}

// ChatHistory returns one page of the conversation with friend, newest
// first.
func (l *Link) ChatHistory(username, friend string, page, pageSize int) ([]wire.Envelope, error) {
	resp, err := l.Request(wire.Envelope{
		"type":      wire.TypeChatHistory,
		"username":  username,
		"friend":    friend,
		"page":      page,
		"page_size": pageSize,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, replyError(resp)
	}
	raw, _ := resp["chat_history"].([]any)
	records := make([]wire.Envelope, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			records = append(records, wire.Envelope(m))
		}
	}
	return records, nil
}

// UserInfo is a user's public profile.
type UserInfo struct {
	Username string
	AvatarID string
	Name     string
	Sign     string
}

// GetUserInfo fetches username's profile.
func (l *Link) GetUserInfo(username string) (*UserInfo, error) {
	resp, err := l.Request(wire.Envelope{
		"type":     wire.TypeGetUserInfo,
		"username": username,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, replyError(resp)
	}
	return &UserInfo{
		Username: resp.String("username"),
		AvatarID: resp.String("avatar_id"),
		Name:     resp.String("name"),
		Sign:     resp.String("sign"),
	}, nil
}

// AddFriend creates the friendship in both directions.
func (l *Link) AddFriend(username, friend string) error {
	resp, err := l.Request(wire.Envelope{
		"type":     wire.TypeAddFriend,
		"username": username,
		"friend":   friend,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return replyError(resp)
	}
	return nil
}

// UpdateRemarks sets the caller's remark for friend and returns the
// display name the server settled on.
func (l *Link) UpdateRemarks(username, friend, remarks string) (string, error) {
	resp, err := l.Request(wire.Envelope{
		"type":     wire.TypeUpdateRemarks,
		"username": username,
		"friend":   friend,
		"remarks":  remarks,
	})
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", replyError(resp)
	}
	return resp.String("remarks"), nil
}

// UpdateName changes the caller's display name.
func (l *Link) UpdateName(username, name string) error {
	resp, err := l.Request(wire.Envelope{
		"type":     wire.TypeUpdateName,
		"username": username,
		"new_name": name,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return replyError(resp)
	}
	return nil
}

// UpdateSign changes the caller's signature line.
func (l *Link) UpdateSign(username, sign string) error {
	resp, err := l.Request(wire.Envelope{
		"type":     wire.TypeUpdateSign,
		"username": username,
		"sign":     sign,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return replyError(resp)
	}
	return nil
}

// UploadAvatar replaces the caller's avatar and returns its new id.
func (l *Link) UploadAvatar(username string, data []byte) (string, error) {
	resp, err := l.Request(wire.Envelope{
		"type":      wire.TypeUploadAvatar,
		"username":  username,
		"file_data": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", replyError(resp)
	}
	return resp.String("avatar_id"), nil
}

// DeleteMessages removes the caller's messages and returns the row ids
// the server actually deleted.
func (l *Link) DeleteMessages(rowIDs []int64) ([]int64, error) {
	ids := make([]any, 0, len(rowIDs))
	for _, id := range rowIDs {
		ids = append(ids, id)
	}
	resp, err := l.Request(wire.Envelope{
		"type":   wire.TypeDeleteMessages,
		"rowids": ids,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, replyError(resp)
	}
	return resp.Int64s("deleted_rowids"), nil
}
