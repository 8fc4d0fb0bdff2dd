package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize caps a single frame body. A length prefix beyond this is
// treated as a corrupt stream, not an allocation request.
const MaxFrameSize = 64 << 20

var (
	// ErrShortRead indicates the peer closed the stream mid-frame.
	ErrShortRead = errors.New("wire: stream closed mid-frame")
	// ErrFrameTooLarge indicates an implausible length prefix.
	ErrFrameTooLarge = errors.New("wire: frame exceeds size limit")
	// ErrBadJSON indicates a decrypted body that is not a JSON object.
	ErrBadJSON = errors.New("wire: invalid envelope JSON")
)

// Codec encodes envelopes into length-prefixed encrypted frames and
// decodes them back. The 4-byte big-endian prefix counts the ciphertext
// including the IV.
type Codec struct {
	cipher *Cipher
}

// NewCodec creates a codec over the shared cipher.
func NewCodec(c *Cipher) *Codec {
	return &Codec{cipher: c}
}

// Encode serializes and encrypts one envelope into a complete frame.
func (c *Codec) Encode(env Envelope) ([]byte, error) {
	plaintext, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal envelope: %w", err)
	}
	body, err := c.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// Decode reads exactly one frame from r. The four error kinds (short
// read, oversized length, decrypt failure, JSON failure) stay
// distinguishable for logging; all of them are fatal for the stream.
func (c *Codec) Decode(r io.Reader) (Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: header: %v", ErrShortRead, err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 || length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrShortRead, err)
	}

	plaintext, err := c.cipher.Decrypt(body)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	return env, nil
}
