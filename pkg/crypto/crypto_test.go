package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(seed byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return key
}

func TestSealOpen(t *testing.T) {
	s, err := NewSealer(testKey(0), 1)
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"api_key", "abc123XYZ789"},
		{"long", strings.Repeat("secret", 40)},
		{"unicode", "密鑰 🔐"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := s.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}
			if !IsSealed(sealed) || ParseVersion(sealed) != 1 {
				t.Fatalf("sealed=%q, expected ENC[v1] prefix", sealed)
			}
			got, err := s.Open(sealed)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if got != tt.plaintext {
				t.Fatalf("plaintext=%q, expected %q", got, tt.plaintext)
			}
		})
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	s, _ := NewSealer(testKey(0), 1)
	a, _ := s.Seal("same")
	b, _ := s.Seal("same")
	if a == b {
		t.Fatalf("expected different ciphertexts for the same plaintext")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	s, _ := NewSealer(testKey(0), 1)
	other, _ := NewSealer(testKey(7), 1)
	foreign, _ := other.Seal("x")

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"plain", "not-encrypted", ErrInvalidCiphertext},
		{"empty data", "ENC[v1]:", ErrInvalidCiphertext},
		{"bad base64", "ENC[v1]:!!!", ErrInvalidCiphertext},
		{"bad version", "ENC[vX]:AAAA", ErrInvalidCiphertext},
		{"wrong key", foreign, ErrDecryptionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Open(tt.input); !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, expected %v", err, tt.want)
			}
		})
	}
}

func TestInvalidKey(t *testing.T) {
	if _, err := NewSealer([]byte("short"), 1); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("err=%v, expected ErrInvalidKey", err)
	}
}

func TestKeyringRotation(t *testing.T) {
	env := map[string]string{
		KeyEnv: base64.StdEncoding.EncodeToString(testKey(1)),
	}
	k1, err := LoadKeyring(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("LoadKeyring failed: %v", err)
	}
	old, _ := k1.Seal("api-secret")

	env[KeyEnv+"_V2"] = base64.StdEncoding.EncodeToString(testKey(2))
	k2, err := LoadKeyring(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("LoadKeyring failed: %v", err)
	}
	if k2.CurrentVersion() != 2 {
		t.Fatalf("CurrentVersion=%d, expected 2", k2.CurrentVersion())
	}

	rotated, err := k2.Rotate(old)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if ParseVersion(rotated) != 2 {
		t.Fatalf("rotated version=%d, expected 2", ParseVersion(rotated))
	}
	for _, v := range []string{old, rotated} {
		got, err := k2.Reveal(v)
		if err != nil || got != "api-secret" {
			t.Fatalf("Reveal=%q,%v, expected api-secret", got, err)
		}
	}
	if got, _ := k2.Reveal("plain-key"); got != "plain-key" {
		t.Fatalf("Reveal passthrough=%q", got)
	}
}

func TestLoadKeyringRequiresPrimary(t *testing.T) {
	_, err := LoadKeyring(func(string) string { return "" })
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("err=%v, expected ErrKeyNotFound", err)
	}
}
