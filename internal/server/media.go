package server

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/halcyonchat/halcyon/internal/media"
	"github.com/halcyonchat/halcyon/internal/store"
	"github.com/halcyonchat/halcyon/internal/transfer"
	"github.com/halcyonchat/halcyon/internal/wire"
)

var downloadTypes = map[string]bool{
	"avatar":    true,
	"image":     true,
	"video":     true,
	"file":      true,
	"thumbnail": true,
}

// handleSendMedia accumulates upload chunks keyed by request_id and
// finalizes on the empty-payload marker: thumbnail generation, message
// insert, conversation update, and the new_media push.
func (h *Handler) handleSendMedia(c *ConnCtx, env wire.Envelope) wire.Envelope {
	var req sendMediaRequest
	if err := env.Decode(&req); err != nil || req.To == "" || req.RequestID == "" {
		return errEnvelope(wire.TypeSendMedia, env.RequestID(), "malformed request")
	}

	if req.FileData != "" {
		data, err := base64.StdEncoding.DecodeString(req.FileData)
		if err != nil {
			return errEnvelope(wire.TypeSendMedia, req.RequestID, "chunk is not valid base64")
		}
		if err := h.uploads.Append(req.RequestID, req.FileName, req.TotalSize, data); err != nil {
			h.log.Error("append upload chunk", zap.Error(err))
			h.uploads.Abort(req.RequestID)
			return errEnvelope(wire.TypeSendMedia, req.RequestID, "chunk write failed")
		}
		return wire.Envelope{
			"type":       wire.TypeSendMedia,
			"status":     wire.StatusSuccess,
			"message":    "chunk received",
			"request_id": req.RequestID,
		}
	}

	sess, err := h.uploads.Finish(req.RequestID)
	if errors.Is(err, transfer.ErrNoSession) && req.TotalSize == 0 {
		// A zero-byte file produces no chunks, so the finalize marker
		// is the entire upload.
		sess, err = h.uploads.Empty(req.FileName)
	}
	if err != nil {
		if errors.Is(err, transfer.ErrNoSession) {
			return errEnvelope(wire.TypeSendMedia, req.RequestID, "no upload in progress")
		}
		return errEnvelope(wire.TypeSendMedia, req.RequestID, "finalize failed")
	}
	if sess.TotalSize > 0 && sess.ReceivedSize != sess.TotalSize {
		h.log.Warn("upload truncated",
			zap.String("file", sess.UniqueFileName),
			zap.Int64("expected", sess.TotalSize),
			zap.Int64("received", sess.ReceivedSize))
		_ = os.Remove(sess.FilePath)
		return errEnvelope(wire.TypeSendMedia, req.RequestID, "upload incomplete")
	}

	thumbPath, thumbB64 := h.makeThumbnail(sess, req.FileType)
	now := store.Now()
	preview := h.replyPreviewJSON(req.ReplyTo)

	msg := &store.Message{
		Sender:           c.user,
		Receiver:         req.To,
		Body:             req.Message,
		WriteTime:        now,
		AttachmentType:   req.FileType,
		AttachmentPath:   sess.FilePath,
		OriginalFileName: req.FileName,
		ThumbnailPath:    thumbPath,
		FileSize:         sess.ReceivedSize,
		ReplyTo:          req.ReplyTo,
		ReplyPreview:     preview,
		FileID:           sess.UniqueFileName,
	}
	rowID, err := h.db.InsertMessage(msg)
	if err != nil {
		h.log.Error("store media message", zap.Error(err))
		_ = os.Remove(sess.FilePath)
		return errEnvelope(wire.TypeSendMedia, req.RequestID, "media store failed")
	}
	if err := h.convos.Update(c.user, req.To, msg); err != nil {
		h.log.Error("update conversation", zap.Error(err))
	}
	content := previewOf(msg)

	push := wire.Envelope{
		"type":               wire.TypeNewMedia,
		"status":             wire.StatusSuccess,
		"from":               c.user,
		"to":                 req.To,
		"message":            req.Message,
		"original_file_name": req.FileName,
		"file_type":          req.FileType,
		"file_id":            sess.UniqueFileName,
		"write_time":         now,
		"file_size":          sess.ReceivedSize,
		"reply_to":           req.ReplyTo,
		"reply_preview":      preview,
		"rowid":              rowID,
		"conversations":      content,
		"thumbnail_data":     thumbB64,
	}
	if err := h.sessions.Push(req.To, push); err != nil {
		h.log.Warn("push new_media", zap.String("to", req.To), zap.Error(err))
	}

	return wire.Envelope{
		"type":           wire.TypeSendMedia,
		"status":         wire.StatusSuccess,
		"message":        req.FileType + " delivered to " + req.To,
		"request_id":     req.RequestID,
		"file_id":        sess.UniqueFileName,
		"write_time":     now,
		"rowid":          rowID,
		"reply_to":       req.ReplyTo,
		"reply_preview":  preview,
		"text_message":   req.Message,
		"conversations":  content,
		"thumbnail_data": thumbB64,
	}
}

// makeThumbnail renders a thumbnail for image uploads. Non-image types
// and undecodable payloads degrade to no thumbnail rather than fail
// the upload.
func (h *Handler) makeThumbnail(sess *transfer.UploadSession, fileType string) (path, b64 string) {
	if fileType != "image" {
		return "", ""
	}
	src, err := os.ReadFile(sess.FilePath)
	if err != nil {
		h.log.Error("read upload for thumbnail", zap.Error(err))
		return "", ""
	}
	thumb, _, _, err := media.Thumbnail(src)
	if err != nil {
		h.log.Warn("thumbnail generation failed", zap.String("file", sess.UniqueFileName), zap.Error(err))
		return "", ""
	}
	path = filepath.Join(h.dirs.Media, "thumb_"+sess.UniqueFileName+".jpg")
	if err := os.WriteFile(path, thumb, 0600); err != nil {
		h.log.Error("write thumbnail", zap.Error(err))
		return "", ""
	}
	return path, base64.StdEncoding.EncodeToString(thumb)
}

// handleDownloadMedia serves the three download shapes: the batch
// init handshake (sizes + checksums), single-shot payloads, and
// chunked reads at an offset. The init handshake advertises only the
// files it could resolve; single-shot failures get their own error
// envelopes without failing the rest of the batch.
func (h *Handler) handleDownloadMedia(env wire.Envelope) []wire.Envelope {
	requestID := env.RequestID()
	downloadType := env.String("download_type")
	if !downloadTypes[downloadType] {
		return []wire.Envelope{errEnvelope(wire.TypeDownloadMedia, requestID, "invalid download_type")}
	}

	fileIDs := env.Strings("file_ids")
	batch := len(fileIDs) > 0
	if !batch {
		if id := env.String("file_id"); id != "" {
			fileIDs = []string{id}
		}
	}
	if len(fileIDs) == 0 {
		return []wire.Envelope{errEnvelope(wire.TypeDownloadMedia, requestID, "no file id given")}
	}

	single := env.Bool("single_request")
	initHandshake := batch && !single

	var out []wire.Envelope
	paths := make(map[string]string, len(fileIDs))
	sizes := make(map[string]int64, len(fileIDs))
	checksums := make(map[string]string, len(fileIDs))
	for _, id := range fileIDs {
		path, err := h.resolveMediaPath(downloadType, id)
		if err == nil {
			var info os.FileInfo
			info, err = os.Stat(path)
			if err == nil {
				var sum string
				sum, err = transfer.Checksum(path)
				if err == nil {
					paths[id] = path
					sizes[id] = info.Size()
					checksums[id] = sum
					continue
				}
			}
		}
		h.log.Warn("file lookup failed", zap.String("file_id", id), zap.Error(err))
		if initHandshake {
			// Unknown files are simply absent from the advertised
			// maps. Emitting an error envelope here would race the
			// init reply for the same request_id and fail the whole
			// batch; the client fails unadvertised ids per file.
			continue
		}
		fail := errEnvelope(wire.TypeDownloadMedia, requestID, "file not found")
		fail["file_id"] = id
		out = append(out, fail)
	}

	if initHandshake {
		out = append(out, wire.Envelope{
			"type":           wire.TypeDownloadMedia,
			"status":         wire.StatusSuccess,
			"message":        "download initialized",
			"request_id":     requestID,
			"file_sizes":     sizes,
			"file_checksums": checksums,
		})
		return out
	}

	if single {
		for id, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				fail := errEnvelope(wire.TypeDownloadMedia, requestID, "read failed")
				fail["file_id"] = id
				out = append(out, fail)
				continue
			}
			out = append(out, wire.Envelope{
				"type":        wire.TypeDownloadMedia,
				"status":      wire.StatusSuccess,
				"file_id":     id,
				"file_size":   sizes[id],
				"file_data":   base64.StdEncoding.EncodeToString(data),
				"is_complete": true,
				"request_id":  requestID,
			})
		}
		return out
	}

	// Chunked mode: exactly one file, offset required.
	if env["offset"] == nil {
		return append(out, errEnvelope(wire.TypeDownloadMedia, requestID, "chunked request needs an offset"))
	}
	if len(paths) != 1 {
		return append(out, errEnvelope(wire.TypeDownloadMedia, requestID, "chunked download supports one file"))
	}
	offset := env.Int64("offset")
	for id, path := range paths {
		data, done, err := transfer.ReadChunk(path, offset)
		if err != nil {
			return append(out, errEnvelope(wire.TypeDownloadMedia, requestID, "read failed"))
		}
		out = append(out, wire.Envelope{
			"type":        wire.TypeDownloadMedia,
			"status":      wire.StatusSuccess,
			"file_id":     id,
			"file_size":   sizes[id],
			"offset":      offset,
			"file_data":   base64.StdEncoding.EncodeToString(data),
			"is_complete": done,
			"request_id":  requestID,
		})
	}
	return out
}

// resolveMediaPath maps a file id to its on-disk path according to the
// download type: avatars come from the users table, thumbnails from
// the message's thumbnail column, everything else from the attachment
// itself.
func (h *Handler) resolveMediaPath(downloadType, fileID string) (string, error) {
	switch downloadType {
	case "avatar":
		path, err := h.db.AvatarPathByID(fileID)
		if err != nil {
			return "", err
		}
		if path == "" {
			return "", os.ErrNotExist
		}
		return path, nil
	case "thumbnail":
		path, err := h.db.ThumbnailPathByFileID(fileID)
		if err != nil {
			return "", err
		}
		if path == "" {
			return "", os.ErrNotExist
		}
		return path, nil
	default:
		m, err := h.db.AttachmentByFileID(fileID)
		if err != nil {
			return "", err
		}
		if m == nil || m.AttachmentPath == "" {
			return "", os.ErrNotExist
		}
		return m.AttachmentPath, nil
	}
}
