// Package secret seals Cal.com API keys at rest with AES-256-GCM under a key
// derived from an operator passphrase.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4

	sealedPrefix = "v1:"
)

// ErrNoPassphrase is returned when opening a sealed value without a key.
var ErrNoPassphrase = errors.New("sealed value requires a passphrase")

// GenerateSalt returns 16 cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 32-byte AES-256 key from a passphrase and salt using Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMem, argonPar, keySize)
}

// Box seals and opens short strings. A nil Box, or one built without a
// passphrase, passes values through unchanged.
type Box struct {
	gcm cipher.AEAD
}

// NewBox derives the sealing key. An empty passphrase yields a pass-through Box.
func NewBox(passphrase string, salt []byte) (*Box, error) {
	if passphrase == "" {
		return &Box{}, nil
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("salt length %d, want %d", len(salt), saltSize)
	}

	block, err := aes.NewCipher(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Box{gcm: gcm}, nil
}

// Enabled reports whether values are actually encrypted.
func (b *Box) Enabled() bool {
	return b != nil && b.gcm != nil
}

// Seal encrypts plain. Output format: "v1:" + base64([12-byte nonce][ciphertext]).
func (b *Box) Seal(plain string) (string, error) {
	if !b.Enabled() || plain == "" {
		return plain, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := b.gcm.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal. Values without the sealed prefix
// were stored before encryption was enabled and are returned as-is.
func (b *Box) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if !b.Enabled() {
		return "", ErrNoPassphrase
	}

	data, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	if len(data) < nonceSize {
		return "", errors.New("sealed value too small")
	}

	plain, err := b.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// SaltStore persists the installation salt.
type SaltStore interface {
	Lookup(key string) (string, bool, error)
	Set(key, value string) error
}

const saltSettingKey = "secret_salt"

// LoadOrCreateSalt returns the stored salt, generating and saving one on first use.
func LoadOrCreateSalt(s SaltStore) ([]byte, error) {
	raw, ok, err := s.Lookup(saltSettingKey)
	if err != nil {
		return nil, err
	}
	if ok {
		salt, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode salt: %w", err)
		}
		return salt, nil
	}

	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := s.Set(saltSettingKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, err
	}
	return salt, nil
}
