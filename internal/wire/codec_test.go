package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	cipher, err := NewCipher(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatal(err)
	}
	return NewCodec(cipher)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := testCodec(t)
	env := Envelope{
		"type":       TypeSendMessage,
		"from":       "u1",
		"to":         "u2",
		"message":    "hello, 世界",
		"request_id": "r-1",
	}

	frame, err := c.Encode(env)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Decode(bytes.NewReader(frame))
	if err != nil {
		t.Fatal(err)
	}
	if got.Type() != TypeSendMessage || got.String("message") != "hello, 世界" {
		t.Errorf("round trip mismatch: %v", got)
	}
	if got.RequestID() != "r-1" {
		t.Errorf("request_id = %q, want r-1", got.RequestID())
	}
}

func TestLengthPrefixMatchesBody(t *testing.T) {
	c := testCodec(t)
	frame, err := c.Encode(Envelope{"type": "exit"})
	if err != nil {
		t.Fatal(err)
	}
	length := binary.BigEndian.Uint32(frame[:4])
	if int(length) != len(frame)-4 {
		t.Errorf("prefix = %d, body = %d", length, len(frame)-4)
	}
	// IV is part of the counted body.
	if length < 16 {
		t.Errorf("body %d bytes cannot hold an IV", length)
	}
}

func TestFreshIVPerFrame(t *testing.T) {
	c := testCodec(t)
	env := Envelope{"type": "exit", "username": "alice"}
	a, err := c.Encode(env)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encode(env)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encodings of the same envelope are identical; IV reused")
	}
}

func TestDecodeShortRead(t *testing.T) {
	c := testCodec(t)
	frame, err := c.Encode(Envelope{"type": "exit"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Decode(bytes.NewReader(frame[:len(frame)-3]))
	if !errors.Is(err, ErrShortRead) {
		t.Errorf("err = %v, want ErrShortRead", err)
	}
}

func TestDecodeEOFOnClosedStream(t *testing.T) {
	c := testCodec(t)
	_, err := c.Decode(bytes.NewReader(nil))
	if err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestDecodeCorruptCiphertext(t *testing.T) {
	c := testCodec(t)
	frame, err := c.Encode(Envelope{"type": "exit"})
	if err != nil {
		t.Fatal(err)
	}
	frame[len(frame)-1] ^= 0xFF
	if _, err := c.Decode(bytes.NewReader(frame)); !errors.Is(err, ErrDecrypt) {
		t.Errorf("err = %v, want ErrDecrypt", err)
	}
}

func TestDecodeWrongKey(t *testing.T) {
	c := testCodec(t)
	frame, err := c.Encode(Envelope{"type": "exit"})
	if err != nil {
		t.Fatal(err)
	}
	other, err := NewCipher(bytes.Repeat([]byte{0x24}, 32))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewCodec(other).Decode(bytes.NewReader(frame)); !errors.Is(err, ErrDecrypt) {
		t.Errorf("err = %v, want ErrDecrypt", err)
	}
}

func TestDecodeRejectsHugeFrame(t *testing.T) {
	c := testCodec(t)
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	_, err := c.Decode(bytes.NewReader(header[:]))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestEnvelopeAccessors(t *testing.T) {
	env := Envelope{
		"type":       TypeDownloadMedia,
		"offset":     float64(1048576),
		"is_complete": true,
		"file_ids":   []any{"a", "b"},
		"rowids":     []any{float64(3), float64(9)},
	}
	if env.Int64("offset") != 1048576 {
		t.Errorf("offset = %d", env.Int64("offset"))
	}
	if !env.Bool("is_complete") {
		t.Error("is_complete should be true")
	}
	if got := env.Strings("file_ids"); len(got) != 2 || got[1] != "b" {
		t.Errorf("file_ids = %v", got)
	}
	if got := env.Int64s("rowids"); len(got) != 2 || got[1] != 9 {
		t.Errorf("rowids = %v", got)
	}
}

func TestIsPush(t *testing.T) {
	cases := []struct {
		env  Envelope
		push bool
	}{
		{Envelope{"type": TypeNewMessage, "request_id": "r"}, true},
		{Envelope{"type": TypeFriendListUpdate}, true},
		{Envelope{"type": TypeSendMessage, "request_id": "r"}, false},
		{Envelope{"type": TypeUpdateRemarks}, true}, // no request_id
		{Envelope{"type": TypeUpdateRemarks, "request_id": "r"}, false},
	}
	for _, tc := range cases {
		if got := tc.env.IsPush(); got != tc.push {
			t.Errorf("IsPush(%v) = %v, want %v", tc.env, got, tc.push)
		}
	}
}
