// Package secrets encrypts API keys at rest in the config file. Values are
// sealed with XChaCha20-Poly1305 under a per-installation key stored next to
// the config.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptedPrefix marks a config value as sealed. Everything after the
// prefix is hex(nonce || ciphertext || tag).
const EncryptedPrefix = "enc:"

const keySize = chacha20poly1305.KeySize

// SecretStore seals and opens config values with a single symmetric key.
type SecretStore struct {
	aead cipher.AEAD
}

// NewSecretStore opens the key file at keyPath, generating and persisting a
// fresh key on first use. The file holds the key hex-encoded, mode 0600.
func NewSecretStore(keyPath string) (*SecretStore, error) {
	key, err := readOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: init cipher: %w", err)
	}
	return &SecretStore{aead: aead}, nil
}

func readOrCreateKey(keyPath string) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return nil, fmt.Errorf("secrets: create key directory: %w", err)
	}

	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(key) != keySize {
			return nil, fmt.Errorf("secrets: key file %s is corrupt (want %d hex characters)", keyPath, keySize*2)
		}
		return key, nil
	case os.IsNotExist(err):
		key := make([]byte, keySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("secrets: generate key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
			return nil, fmt.Errorf("secrets: write key file: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("secrets: read key file: %w", err)
	}
}

// Encrypt seals a value. Empty and already-sealed values pass through
// unchanged, so Encrypt is safe to run over a config repeatedly.
func (s *SecretStore) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || IsEncrypted(plaintext) {
		return plaintext, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + hex.EncodeToString(sealed), nil
}

// Decrypt opens a sealed value. Values without the prefix pass through
// unchanged.
func (s *SecretStore) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	raw, err := hex.DecodeString(value[len(EncryptedPrefix):])
	if err != nil {
		return "", fmt.Errorf("secrets: hex decode: %w", err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", errors.New("secrets: sealed value too short")
	}

	plaintext, err := s.aead.Open(nil, raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether a value carries the sealed-value prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}
