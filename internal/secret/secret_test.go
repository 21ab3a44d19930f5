package secret

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestGenerateSalt(t *testing.T) {
	salt1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	if len(salt1) != saltSize {
		t.Errorf("salt length = %d, want %d", len(salt1), saltSize)
	}

	salt2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt 2: %v", err)
	}
	if bytes.Equal(salt1, salt2) {
		t.Error("two salts should not be equal")
	}
}

func TestDeriveKeyDeterminism(t *testing.T) {
	salt := []byte("1234567890abcdef")

	key1 := DeriveKey("mypassphrase", salt)
	key2 := DeriveKey("mypassphrase", salt)
	if !bytes.Equal(key1, key2) {
		t.Error("same passphrase+salt should produce same key")
	}
	if len(key1) != keySize {
		t.Errorf("key length = %d, want %d", len(key1), keySize)
	}
	if bytes.Equal(key1, DeriveKey("other", salt)) {
		t.Error("different passphrases should produce different keys")
	}
}

func TestSealOpen(t *testing.T) {
	box, err := NewBox("passphrase", []byte("1234567890abcdef"))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	sealed, err := box.Seal("cal_live_abc123")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) || strings.Contains(sealed, "abc123") {
		t.Errorf("sealed = %q", sealed)
	}

	plain, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if plain != "cal_live_abc123" {
		t.Errorf("plain = %q", plain)
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	salt := []byte("1234567890abcdef")
	a, _ := NewBox("right", salt)
	b, _ := NewBox("wrong", salt)

	sealed, err := a.Seal("key")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
}

func TestPassThrough(t *testing.T) {
	box, err := NewBox("", nil)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	if box.Enabled() {
		t.Error("box without passphrase should be disabled")
	}

	sealed, _ := box.Seal("plain")
	if sealed != "plain" {
		t.Errorf("sealed = %q, want unchanged", sealed)
	}
	if _, err := box.Open("v1:AAAA"); !errors.Is(err, ErrNoPassphrase) {
		t.Errorf("err = %v, want ErrNoPassphrase", err)
	}

	enabled, _ := NewBox("p", []byte("1234567890abcdef"))
	plain, err := enabled.Open("legacy-plain-key")
	if err != nil || plain != "legacy-plain-key" {
		t.Errorf("open legacy = %q, %v", plain, err)
	}
}

type memSettings map[string]string

func (m memSettings) Lookup(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memSettings) Set(key, value string) error {
	m[key] = value
	return nil
}

func TestLoadOrCreateSalt(t *testing.T) {
	s := memSettings{}

	salt1, err := LoadOrCreateSalt(s)
	if err != nil {
		t.Fatalf("create salt: %v", err)
	}
	salt2, err := LoadOrCreateSalt(s)
	if err != nil {
		t.Fatalf("load salt: %v", err)
	}
	if !bytes.Equal(salt1, salt2) {
		t.Error("salt should be stable once stored")
	}
}
