package wire

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// KeyEnvVar is checked before falling back to the key file.
const KeyEnvVar = "HALCYON_KEY"

var (
	// ErrCiphertextShort indicates a payload too small to hold an IV.
	ErrCiphertextShort = errors.New("wire: ciphertext shorter than IV")
	// ErrDecrypt indicates a key mismatch or corrupted ciphertext.
	ErrDecrypt = errors.New("wire: decryption failed")
)

// Cipher holds the shared symmetric key and performs AES-CBC with
// PKCS#7 padding. Both peers must load the same key; there is no key
// exchange on the wire (preserved protocol contract).
type Cipher struct {
	block cipher.Block
}

// NewCipher creates a cipher from a raw AES key (16, 24 or 32 bytes).
func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("wire: bad key: %w", err)
	}
	return &Cipher{block: block}, nil
}

// LoadKey resolves the shared key: base64 from the environment variable
// if set, otherwise the raw bytes of keyFile.
func LoadKey(keyFile string) ([]byte, error) {
	if v := os.Getenv(KeyEnvVar); v != "" {
		key, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("wire: %s is not valid base64: %w", KeyEnvVar, err)
		}
		return key, nil
	}
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("wire: read key file: %w", err)
	}
	return key, nil
}

// Encrypt returns IV || AES-CBC(pad(plaintext)) with a fresh random IV.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("wire: generate iv: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// Decrypt splits the leading IV, decrypts the remainder and strips the
// padding. Returns ErrDecrypt when the result cannot be a valid message.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < aes.BlockSize {
		return nil, ErrCiphertextShort
	}
	iv, body := data[:aes.BlockSize], data[aes.BlockSize:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, ErrDecrypt
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, body)
	return pkcs7Unpad(plain, aes.BlockSize)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrDecrypt
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, ErrDecrypt
	}
	for _, pad := range b[len(b)-n:] {
		if int(pad) != n {
			return nil, ErrDecrypt
		}
	}
	return b[:len(b)-n], nil
}
