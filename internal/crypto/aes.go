// Package crypto seals short secrets (pairing codes held in a shared cache)
// with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

const prefix = "aes-gcm:"

// ErrOpen is returned when a sealed value fails authentication.
var ErrOpen = errors.New("decrypt failed: invalid key or corrupted data")

// Sealer encrypts and decrypts values with one key. A nil Sealer passes
// values through unchanged.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the AES key from key. An empty key yields a nil Sealer.
func NewSealer(key string) (*Sealer, error) {
	if key == "" {
		return nil, nil
	}
	raw, err := DeriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns "aes-gcm:" + base64(nonce | ciphertext | tag).
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the prefix are returned as-is so a
// cache written before a key was configured stays readable.
func (s *Sealer) Open(value string) (string, error) {
	if s == nil || !IsSealed(value) {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", ErrOpen
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", ErrOpen
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", ErrOpen
	}
	return string(plain), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, prefix)
}

// DeriveKey converts the input string to a 32-byte AES key.
// Accepts: hex-encoded (64 chars), base64-encoded (44 chars), or raw 32 bytes.
func DeriveKey(input string) ([]byte, error) {
	if len(input) == 64 {
		if b, err := hex.DecodeString(input); err == nil {
			return b, nil
		}
	}
	if len(input) == 44 && strings.HasSuffix(input, "=") {
		if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) == 32 {
			return b, nil
		}
	}
	if len(input) == 32 {
		return []byte(input), nil
	}
	return nil, errors.New("encryption key must be 32 bytes (hex-encoded 64 chars, base64 44 chars, or raw 32 bytes)")
}
