package transfer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/halcyonchat/halcyon/internal/media"
	"github.com/halcyonchat/halcyon/internal/wire"
)

// Requester issues one correlated request and returns its reply.
// Implementations correlate on the envelope's request_id, assigning a
// fresh one only when absent. The client transport implements it;
// tests use in-process fakes.
type Requester interface {
	Request(env wire.Envelope) (wire.Envelope, error)
}

// Validation failures reported per file by Fetch.
var (
	ErrSizeMismatch     = errors.New("transfer: file size mismatch")
	ErrChecksumMismatch = errors.New("transfer: checksum mismatch")
	ErrBadImageData     = errors.New("transfer: image signature check failed")
)

// FileResult is the independent outcome of one file in a batch.
type FileResult struct {
	FileID string
	Path   string
	Err    error
}

// imageTypes are download types validated against image magic bytes.
var imageTypes = map[string]bool{
	"avatar":    true,
	"image":     true,
	"thumbnail": true,
}

// Fetch downloads a batch of files. It first asks the server for the
// advertised sizes and checksums, then pulls each file single-shot or
// chunked by size, validating and atomically renaming into destDir.
// One bad file never fails the rest of the batch.
func Fetch(req Requester, downloadType, destDir string, fileIDs []string) []FileResult {
	results := make([]FileResult, 0, len(fileIDs))

	init, err := req.Request(wire.Envelope{
		"type":          wire.TypeDownloadMedia,
		"download_type": downloadType,
		"file_ids":      fileIDs,
	})
	if err != nil {
		for _, id := range fileIDs {
			results = append(results, FileResult{FileID: id, Err: err})
		}
		return results
	}
	sizes := init.Int64Map("file_sizes")
	checksums := init.StringMap("file_checksums")

	for _, id := range fileIDs {
		size, ok := sizes[id]
		if !ok {
			results = append(results, FileResult{
				FileID: id,
				Err:    fmt.Errorf("transfer: server did not advertise %s", id),
			})
			continue
		}
		path, err := fetchOne(req, downloadType, destDir, id, size, checksums[id])
		results = append(results, FileResult{FileID: id, Path: path, Err: err})
	}
	return results
}

func fetchOne(req Requester, downloadType, destDir, fileID string, size int64, checksum string) (string, error) {
	if err := os.MkdirAll(destDir, 0700); err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, fileID)
	tmp, err := os.CreateTemp(destDir, fileID+".part*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}

	if size <= ChunkSize {
		resp, err := req.Request(wire.Envelope{
			"type":           wire.TypeDownloadMedia,
			"download_type":  downloadType,
			"file_id":        fileID,
			"single_request": true,
		})
		if err != nil {
			return fail(err)
		}
		if !resp.OK() {
			return fail(fmt.Errorf("transfer: %s", resp.String("message")))
		}
		data, err := base64.StdEncoding.DecodeString(resp.String("file_data"))
		if err != nil {
			return fail(err)
		}
		if _, err := tmp.Write(data); err != nil {
			return fail(err)
		}
	} else {
		var offset int64
		for {
			// The singular file_id keeps this distinct from the batch
			// init request; the server treats file_ids without
			// single_request as the metadata handshake.
			resp, err := req.Request(wire.Envelope{
				"type":          wire.TypeDownloadMedia,
				"download_type": downloadType,
				"file_id":       fileID,
				"offset":        offset,
			})
			if err != nil {
				return fail(err)
			}
			if !resp.OK() {
				return fail(fmt.Errorf("transfer: %s", resp.String("message")))
			}
			data, err := base64.StdEncoding.DecodeString(resp.String("file_data"))
			if err != nil {
				return fail(err)
			}
			// Write at the server-reported offset; advance by bytes
			// actually received so short reads stay consistent.
			if _, err := tmp.WriteAt(data, resp.Int64("offset")); err != nil {
				return fail(err)
			}
			offset += int64(len(data))
			if resp.Bool("is_complete") {
				break
			}
			if len(data) == 0 {
				return fail(errors.New("transfer: empty chunk before completion"))
			}
		}
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := validate(tmpName, downloadType, size, checksum); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return dest, nil
}

func validate(path, downloadType string, size int64, checksum string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() != size {
		return ErrSizeMismatch
	}
	sum, err := Checksum(path)
	if err != nil {
		return err
	}
	if checksum != "" && sum != checksum {
		return ErrChecksumMismatch
	}
	if imageTypes[downloadType] {
		head := make([]byte, 8)
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		n, _ := io.ReadFull(f, head)
		_ = f.Close()
		if !media.IsImageData(head[:n]) {
			return ErrBadImageData
		}
	}
	return nil
}

// Upload streams r to the server in fixed-size chunks under the base
// envelope fields, then sends the empty finalize marker and returns
// the server's completion reply.
func Upload(req Requester, base wire.Envelope, r io.Reader, totalSize int64) (wire.Envelope, error) {
	// Every chunk must carry the same request_id: the server keys the
	// upload session by it.
	if base.RequestID() == "" {
		base = cloneEnvelope(base)
		base["request_id"] = uuid.NewString()
	}
	buf := make([]byte, ChunkSize)
	var sent int64
	for {
		n, err := io.ReadFull(r, buf)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, err
		}
		chunk := cloneEnvelope(base)
		chunk["file_data"] = base64.StdEncoding.EncodeToString(buf[:n])
		chunk["total_size"] = totalSize
		chunk["sent_size"] = sent
		resp, rerr := req.Request(chunk)
		if rerr != nil {
			return nil, rerr
		}
		if !resp.OK() {
			return nil, fmt.Errorf("transfer: %s", resp.String("message"))
		}
		sent += int64(n)
		if err == io.ErrUnexpectedEOF {
			break
		}
	}

	final := cloneEnvelope(base)
	final["file_data"] = ""
	final["total_size"] = totalSize
	final["sent_size"] = sent
	resp, err := req.Request(final)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("transfer: %s", resp.String("message"))
	}
	return resp, nil
}

func cloneEnvelope(e wire.Envelope) wire.Envelope {
	out := make(wire.Envelope, len(e)+3)
	for k, v := range e {
		out[k] = v
	}
	return out
}
