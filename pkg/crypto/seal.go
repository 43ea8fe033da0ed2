// Package crypto seals exchange credentials at rest so API keys can sit in
// .env or the process environment as ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// KeySize is the AES-256 key length.
const KeySize = 32

const sealedPrefix = "ENC[v"

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Sealer encrypts with one key version using AES-256-GCM. Output format is
// ENC[vN]:base64(nonce|ciphertext|tag).
type Sealer struct {
	aead    cipher.AEAD
	version int
}

// NewSealer builds a sealer for a 32-byte key.
func NewSealer(key []byte, version int) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Sealer{aead: aead, version: version}, nil
}

// Version is the key version stamped on sealed values.
func (s *Sealer) Version() int { return s.version }

// Seal encrypts plaintext with a fresh random nonce.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("%s%d]:%s", sealedPrefix, s.version, base64.StdEncoding.EncodeToString(out)), nil
}

// Open decrypts a value produced by Seal with the same key.
func (s *Sealer) Open(sealed string) (string, error) {
	_, data, err := split(sealed)
	if err != nil {
		return "", err
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", ErrInvalidCiphertext
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// IsSealed reports whether v looks like a sealed value.
func IsSealed(v string) bool { return strings.HasPrefix(v, sealedPrefix) }

// ParseVersion returns the key version of a sealed value, or 0.
func ParseVersion(sealed string) int {
	v, _, err := split(sealed)
	if err != nil {
		return 0
	}
	return v
}

func split(sealed string) (int, []byte, error) {
	if !IsSealed(sealed) {
		return 0, nil, ErrInvalidCiphertext
	}
	end := strings.Index(sealed, "]:")
	if end < 0 {
		return 0, nil, ErrInvalidCiphertext
	}
	version, err := strconv.Atoi(sealed[len(sealedPrefix):end])
	if err != nil || version <= 0 {
		return 0, nil, ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(sealed[end+2:])
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return version, data, nil
}
