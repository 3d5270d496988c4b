package utils

import (
	"strings"
	"testing"
)

const testKeyHex = "5f1d9ab673c2e8440fa2b7d1c95e3a087d64f1b20c83ea5d917f4ce60b28d3a1"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}

	secrets := []string{
		"",
		"tta.access.token.abc123",
		strings.Repeat("long-refresh-token-", 50),
	}

	for _, secret := range secrets {
		sealed, err := Encrypt(secret, key)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if sealed == secret && secret != "" {
			t.Error("ciphertext should differ from plaintext")
		}

		plain, err := Decrypt(sealed, key)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if plain != secret {
			t.Errorf("round trip mismatch: got %q, want %q", plain, secret)
		}
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	key, _ := ParseKey(testKeyHex)

	a, _ := Encrypt("same-token", key)
	b, _ := Encrypt("same-token", key)
	if a == b {
		t.Error("two encryptions of the same plaintext should not be identical")
	}
}

func TestDecryptRejectsTampered(t *testing.T) {
	key, _ := ParseKey(testKeyHex)

	sealed, _ := Encrypt("token", key)
	tampered := "00" + sealed[2:]
	if _, err := Decrypt(tampered, key); err == nil {
		t.Error("expected tampered ciphertext to be rejected")
	}
}

func TestParseKeyRejectsBadKeys(t *testing.T) {
	if _, err := ParseKey("zznothex"); err == nil {
		t.Error("expected non-hex key to be rejected")
	}
	if _, err := ParseKey("abcd1234"); err == nil {
		t.Error("expected short key to be rejected")
	}
}
