package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoSession means no upload is in progress for the request id.
var ErrNoSession = errors.New("transfer: no upload session")

// UploadSession accumulates the chunks of one send_media request.
type UploadSession struct {
	FilePath       string
	UniqueFileName string
	TotalSize      int64
	ReceivedSize   int64
}

// Uploads is the server-side map of in-flight uploads, keyed by
// request_id. At most one session exists per request id; sessions are
// removed on both finalize and abort so temp files never orphan.
type Uploads struct {
	dir string

	mu       sync.Mutex
	sessions map[string]*UploadSession
}

// NewUploads creates the upload tracker writing into dir.
func NewUploads(dir string) *Uploads {
	return &Uploads{
		dir:      dir,
		sessions: make(map[string]*UploadSession),
	}
}

// newSession builds a session with a unique stored name keeping the
// original file extension.
func (u *Uploads) newSession(originalName string, totalSize int64) *UploadSession {
	name := fmt.Sprintf("%s_%s%s",
		time.Now().Format("20060102150405"),
		uuid.NewString(),
		filepath.Ext(originalName))
	return &UploadSession{
		FilePath:       filepath.Join(u.dir, name),
		UniqueFileName: name,
		TotalSize:      totalSize,
	}
}

// Append writes a chunk for requestID, creating the session on the
// first chunk.
func (u *Uploads) Append(requestID, originalName string, totalSize int64, data []byte) error {
	u.mu.Lock()
	sess, ok := u.sessions[requestID]
	if !ok {
		sess = u.newSession(originalName, totalSize)
		u.sessions[requestID] = sess
	}
	u.mu.Unlock()

	if err := os.MkdirAll(u.dir, 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(sess.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return werr
	}

	u.mu.Lock()
	sess.ReceivedSize += int64(len(data))
	u.mu.Unlock()
	return nil
}

// Empty materializes a zero-byte upload on disk. Zero-byte files never
// produce a chunk, so the finalize marker arrives with no session; the
// returned session is not tracked and belongs to the caller.
func (u *Uploads) Empty(originalName string) (*UploadSession, error) {
	sess := u.newSession(originalName, 0)
	if err := os.MkdirAll(u.dir, 0700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(sess.FilePath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Finish removes and returns the completed session for requestID.
func (u *Uploads) Finish(requestID string) (*UploadSession, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	sess, ok := u.sessions[requestID]
	if !ok {
		return nil, ErrNoSession
	}
	delete(u.sessions, requestID)
	return sess, nil
}

// Abort drops the session for requestID and deletes its temp file.
func (u *Uploads) Abort(requestID string) {
	u.mu.Lock()
	sess, ok := u.sessions[requestID]
	delete(u.sessions, requestID)
	u.mu.Unlock()
	if ok {
		_ = os.Remove(sess.FilePath)
	}
}

// Len reports the number of in-flight uploads.
func (u *Uploads) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.sessions)
}
