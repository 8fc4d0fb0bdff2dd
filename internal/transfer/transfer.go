// Package transfer implements the media transfer engine: chunked and
// single-shot upload/download, checksum verification, and atomic
// finalize by rename.
package transfer

import (
	"crypto/md5"
	"encoding/base64"
	"io"
	"os"
)

// ChunkSize is the fixed transfer chunk, and also the single-shot
// threshold: payloads at or under it move in one envelope.
const ChunkSize = 1 << 20

// Checksum returns the base64 MD5 digest of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// ChecksumBytes returns the base64 MD5 digest of data.
func ChecksumBytes(data []byte) string {
	sum := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ReadChunk returns up to ChunkSize bytes of the file starting at
// offset, and whether that reaches the end of the file.
func ReadChunk(path string, offset int64) (data []byte, done bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	buf := make([]byte, ChunkSize)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	return buf[:n], offset+int64(n) >= info.Size(), nil
}
