package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeyEnv is the environment variable holding the version 1 master key.
// Later versions use KeyEnv_V2, KeyEnv_V3 and so on.
const KeyEnv = "MASTER_ENCRYPTION_KEY"

const maxKeyVersion = 10

// ErrKeyNotFound is returned when no master key is configured.
var ErrKeyNotFound = errors.New("encryption key not found")

// Keyring holds every configured key version. Seal always uses the newest.
type Keyring struct {
	sealers map[int]*Sealer
	current int
}

// LoadKeyring reads base64 master keys through getenv (usually os.Getenv).
// Version 1 is required; higher versions are optional.
func LoadKeyring(getenv func(string) string) (*Keyring, error) {
	k := &Keyring{sealers: make(map[int]*Sealer)}
	for v := 1; v <= maxKeyVersion; v++ {
		name := KeyEnv
		if v > 1 {
			name = fmt.Sprintf("%s_V%d", KeyEnv, v)
		}
		raw := getenv(name)
		if raw == "" {
			if v == 1 {
				return nil, fmt.Errorf("%s: %w", name, ErrKeyNotFound)
			}
			continue
		}
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		s, err := NewSealer(key, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		k.sealers[v] = s
		k.current = v
	}
	return k, nil
}

// CurrentVersion is the version new values are sealed with.
func (k *Keyring) CurrentVersion() int { return k.current }

// Seal encrypts with the newest key.
func (k *Keyring) Seal(plaintext string) (string, error) {
	return k.sealers[k.current].Seal(plaintext)
}

// Open picks the key version stamped on sealed.
func (k *Keyring) Open(sealed string) (string, error) {
	v := ParseVersion(sealed)
	if v == 0 {
		return "", ErrInvalidCiphertext
	}
	s, ok := k.sealers[v]
	if !ok {
		return "", fmt.Errorf("key version %d not available", v)
	}
	return s.Open(sealed)
}

// Reveal returns v unchanged unless it is sealed.
func (k *Keyring) Reveal(v string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	return k.Open(v)
}

// Rotate re-seals a value under the newest key.
func (k *Keyring) Rotate(sealed string) (string, error) {
	plain, err := k.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("decrypt for rotation: %w", err)
	}
	return k.Seal(plain)
}

// GenerateKey returns a random base64 key suitable for KeyEnv.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
