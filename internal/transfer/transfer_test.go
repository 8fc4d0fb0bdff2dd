package transfer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/halcyonchat/halcyon/internal/wire"
)

// pattern produces deterministic non-repeating content of n bytes.
func pattern(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*7 + i/251)
	}
	return buf
}

// pngHeader wraps content in a PNG signature so image validation passes.
func pngHeader(content []byte) []byte {
	return append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, content...)
}

func TestChecksumFileMatchesBytes(t *testing.T) {
	data := pattern(10_000)
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	fromFile, err := Checksum(path)
	if err != nil {
		t.Fatal(err)
	}
	if fromFile != ChecksumBytes(data) {
		t.Error("file and byte checksums disagree")
	}
}

func TestReadChunkBoundaries(t *testing.T) {
	data := pattern(ChunkSize + 100)
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	first, done, err := ReadChunk(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != ChunkSize || done {
		t.Errorf("first chunk: len=%d done=%v", len(first), done)
	}
	second, done, err := ReadChunk(path, ChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 100 || !done {
		t.Errorf("second chunk: len=%d done=%v", len(second), done)
	}
	if !bytes.Equal(append(first, second...), data) {
		t.Error("chunks do not reassemble the source")
	}
}

func TestUploadsLifecycle(t *testing.T) {
	u := NewUploads(t.TempDir())

	if err := u.Append("r1", "photo.png", 6, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := u.Append("r1", "photo.png", 6, []byte("def")); err != nil {
		t.Fatal(err)
	}
	if u.Len() != 1 {
		t.Errorf("Len = %d, want 1", u.Len())
	}

	sess, err := u.Finish("r1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.ReceivedSize != 6 {
		t.Errorf("ReceivedSize = %d", sess.ReceivedSize)
	}
	if filepath.Ext(sess.UniqueFileName) != ".png" {
		t.Errorf("stored name %q lost the extension", sess.UniqueFileName)
	}
	got, err := os.ReadFile(sess.FilePath)
	if err != nil || string(got) != "abcdef" {
		t.Errorf("file content = %q, %v", got, err)
	}

	if _, err := u.Finish("r1"); !errors.Is(err, ErrNoSession) {
		t.Errorf("second Finish = %v, want ErrNoSession", err)
	}
}

func TestUploadsAbortRemovesTempFile(t *testing.T) {
	u := NewUploads(t.TempDir())
	if err := u.Append("r1", "doc.pdf", 3, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	sessPath := func() string {
		u.mu.Lock()
		defer u.mu.Unlock()
		return u.sessions["r1"].FilePath
	}()

	u.Abort("r1")
	if u.Len() != 0 {
		t.Error("session not removed")
	}
	if _, err := os.Stat(sessPath); !os.IsNotExist(err) {
		t.Error("temp file not deleted")
	}
}

// fakeDownloadServer answers the download_media protocol from memory,
// shaping values the way a JSON decode would.
type fakeDownloadServer struct {
	files         map[string][]byte
	badChecksums  map[string]bool
	chunkRequests int
}

func (s *fakeDownloadServer) Request(env wire.Envelope) (wire.Envelope, error) {
	// Round-trip through JSON so the envelope carries the decoded shapes
	// ([]any, float64) the real server sees on the wire.
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	env = wire.Envelope{}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	// file_ids without single_request is always the init handshake,
	// matching the dispatcher; chunk requests carry the singular
	// file_id plus an offset.
	if ids := env.Strings("file_ids"); len(ids) > 0 && !env.Bool("single_request") {
		sizes := map[string]any{}
		sums := map[string]any{}
		for _, id := range ids {
			data, ok := s.files[id]
			if !ok {
				continue
			}
			sizes[id] = float64(len(data))
			sum := ChecksumBytes(data)
			if s.badChecksums[id] {
				sum = ChecksumBytes([]byte("tampered"))
			}
			sums[id] = sum
		}
		return wire.Envelope{
			"type": wire.TypeDownloadMedia, "status": "success",
			"file_sizes": sizes, "file_checksums": sums,
		}, nil
	}

	if env.Bool("single_request") {
		data, ok := s.files[env.String("file_id")]
		if !ok {
			return wire.Envelope{"type": wire.TypeDownloadMedia, "status": "error", "message": "not found"}, nil
		}
		return wire.Envelope{
			"type": wire.TypeDownloadMedia, "status": "success",
			"file_data": base64.StdEncoding.EncodeToString(data),
			"file_size": float64(len(data)), "is_complete": true,
		}, nil
	}

	// Chunked read.
	if env["offset"] == nil {
		return wire.Envelope{"type": wire.TypeDownloadMedia, "status": "error", "message": "chunked request needs an offset"}, nil
	}
	s.chunkRequests++
	id := env.String("file_id")
	data := s.files[id]
	offset := env.Int64("offset")
	end := offset + ChunkSize
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return wire.Envelope{
		"type": wire.TypeDownloadMedia, "status": "success",
		"file_id":   id,
		"offset":    float64(offset),
		"file_data": base64.StdEncoding.EncodeToString(data[offset:end]),
		"file_size": float64(len(data)),
		"is_complete": func() bool {
			return end >= int64(len(data))
		}(),
	}, nil
}

func TestFetchSingleShot(t *testing.T) {
	content := pngHeader(pattern(500))
	srv := &fakeDownloadServer{files: map[string][]byte{"f-1": content}}
	dir := t.TempDir()

	results := Fetch(srv, "image", dir, []string{"f-1"})
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("results = %+v", results)
	}
	got, err := os.ReadFile(results[0].Path)
	if err != nil || !bytes.Equal(got, content) {
		t.Errorf("downloaded content differs: %v", err)
	}
	if srv.chunkRequests != 0 {
		t.Error("small file should not use chunked mode")
	}
}

func TestFetchChunkedReassembly(t *testing.T) {
	content := pattern(2*ChunkSize + 1234)
	srv := &fakeDownloadServer{files: map[string][]byte{"f-big": content}}
	dir := t.TempDir()

	results := Fetch(srv, "file", dir, []string{"f-big"})
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("results = %+v", results)
	}
	got, err := os.ReadFile(results[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("reassembled file differs from source")
	}
	if srv.chunkRequests != 3 {
		t.Errorf("chunk requests = %d, want 3", srv.chunkRequests)
	}
}

func TestFetchBatchIndependence(t *testing.T) {
	srv := &fakeDownloadServer{
		files: map[string][]byte{
			"ok-1":  pngHeader(pattern(100)),
			"bad-1": pngHeader(pattern(200)),
			"ok-2":  pngHeader(pattern(300)),
		},
		badChecksums: map[string]bool{"bad-1": true},
	}
	dir := t.TempDir()

	results := Fetch(srv, "thumbnail", dir, []string{"ok-1", "bad-1", "ok-2"})
	if len(results) != 3 {
		t.Fatalf("results = %+v", results)
	}
	byID := map[string]FileResult{}
	for _, r := range results {
		byID[r.FileID] = r
	}
	if byID["ok-1"].Err != nil || byID["ok-2"].Err != nil {
		t.Errorf("good files failed: %+v", results)
	}
	if !errors.Is(byID["bad-1"].Err, ErrChecksumMismatch) {
		t.Errorf("bad-1 err = %v, want ErrChecksumMismatch", byID["bad-1"].Err)
	}
	// The failed temp file must not linger.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("dest dir has %d entries, want 2", len(entries))
	}
}

func TestFetchRejectsNonImagePayload(t *testing.T) {
	srv := &fakeDownloadServer{files: map[string][]byte{"f-1": pattern(100)}}
	results := Fetch(srv, "avatar", t.TempDir(), []string{"f-1"})
	if !errors.Is(results[0].Err, ErrBadImageData) {
		t.Errorf("err = %v, want ErrBadImageData", results[0].Err)
	}
}

func TestFetchUnknownFileID(t *testing.T) {
	srv := &fakeDownloadServer{files: map[string][]byte{}}
	results := Fetch(srv, "file", t.TempDir(), []string{"ghost"})
	if len(results) != 1 || results[0].Err == nil {
		t.Errorf("results = %+v", results)
	}
}

// uploadRecorder captures the chunk stream client-side Upload emits.
type uploadRecorder struct {
	envs []wire.Envelope
}

func (r *uploadRecorder) Request(env wire.Envelope) (wire.Envelope, error) {
	r.envs = append(r.envs, env)
	if env.String("file_data") == "" {
		return wire.Envelope{"status": "success", "file_id": "assigned-1", "rowid": float64(42)}, nil
	}
	return wire.Envelope{"status": "success"}, nil
}

func TestUploadChunksAndFinalizes(t *testing.T) {
	content := pattern(ChunkSize + 10)
	rec := &uploadRecorder{}

	resp, err := Upload(rec, wire.Envelope{
		"type": wire.TypeSendMedia, "from": "u1", "to": "u2",
	}, bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatal(err)
	}
	if resp.String("file_id") != "assigned-1" {
		t.Errorf("final resp = %v", resp)
	}

	if len(rec.envs) != 3 {
		t.Fatalf("requests = %d, want 2 chunks + finalize", len(rec.envs))
	}
	reqID := rec.envs[0].RequestID()
	if reqID == "" {
		t.Fatal("upload chunks must carry a request_id")
	}
	var reassembled []byte
	for i, env := range rec.envs {
		if env.RequestID() != reqID {
			t.Error("request_id must be stable across chunks")
		}
		if env.Int64("total_size") != int64(len(content)) {
			t.Errorf("chunk %d total_size = %d", i, env.Int64("total_size"))
		}
		if env.Int64("sent_size") != int64(len(reassembled)) {
			t.Errorf("chunk %d sent_size = %d, want %d", i, env.Int64("sent_size"), len(reassembled))
		}
		data, err := base64.StdEncoding.DecodeString(env.String("file_data"))
		if err != nil {
			t.Fatal(err)
		}
		reassembled = append(reassembled, data...)
	}
	if rec.envs[len(rec.envs)-1].String("file_data") != "" {
		t.Error("last request must be the empty finalize marker")
	}
	if !bytes.Equal(reassembled, content) {
		t.Error("chunks do not reassemble the upload")
	}
}
