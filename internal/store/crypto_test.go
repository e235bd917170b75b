package store

import (
	"bytes"
	"testing"
)

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	enc, err := c.Encrypt("tok_abc123")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if enc == "tok_abc123" {
		t.Fatalf("ciphertext equals plaintext")
	}
	got, err := c.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "tok_abc123" {
		t.Fatalf("expected round trip, got %q", got)
	}
}

func TestCipher_RejectsShortKey(t *testing.T) {
	if _, err := NewCipher([]byte("short")); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestCipher_RejectsGarbage(t *testing.T) {
	c, _ := NewCipher(bytes.Repeat([]byte{0x42}, 32))
	if _, err := c.Decrypt("not base64!!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
	if _, err := c.Decrypt("aGVsbG8="); err == nil {
		t.Fatalf("expected error for truncated ciphertext")
	}
}
