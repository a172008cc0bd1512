package crypto

import (
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestSealAndOpenRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey(), 1)
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"short", "hello"},
		{"api_key", "abc123XYZ789"},
		{"long", "a long venue API secret with enough length to span several AES blocks"},
		{"unicode", "clé-privée-🔐"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := enc.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if !IsSealed(sealed) {
				t.Errorf("sealed value missing version prefix: %s", sealed)
			}

			opened, err := enc.Decrypt(sealed)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if opened != tt.plaintext {
				t.Errorf("opened = %q, want %q", opened, tt.plaintext)
			}
		})
	}
}

func TestSealIsNonDeterministic(t *testing.T) {
	enc, _ := NewEncryptor(testKey(), 1)

	c1, _ := enc.Encrypt("same-api-key")
	c2, _ := enc.Encrypt("same-api-key")
	if c1 == c2 {
		t.Error("expected different ciphertexts for same plaintext")
	}
}

func TestInvalidKey(t *testing.T) {
	if _, err := NewEncryptor([]byte("short"), 1); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestOpenRejectsMalformedValues(t *testing.T) {
	enc, _ := NewEncryptor(testKey(), 1)

	invalids := []string{
		"",
		"not-sealed",
		"ENC[v1]:",
		"ENC[v1]:!!!invalid",
	}
	for _, invalid := range invalids {
		if _, err := enc.Decrypt(invalid); err == nil {
			t.Errorf("expected error for malformed value: %s", invalid)
		}
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	enc, _ := NewEncryptor(testKey(), 1)
	sealed, _ := enc.Encrypt("secret")

	other := testKey()
	other[0] ^= 0xFF
	wrong, _ := NewEncryptor(other, 1)
	if _, err := wrong.Decrypt(sealed); err != ErrDecryptionFailed {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		ciphertext string
		expected   int
	}{
		{"ENC[v1]:data", 1},
		{"ENC[v2]:data", 2},
		{"ENC[v10]:data", 10},
		{"invalid", 0},
		{"ENC[vX]:data", 0},
	}
	for _, tt := range tests {
		if got := ParseVersion(tt.ciphertext); got != tt.expected {
			t.Errorf("ParseVersion(%q) = %d, want %d", tt.ciphertext, got, tt.expected)
		}
	}
}

func TestKeyManagerRotation(t *testing.T) {
	k1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	k2, _ := GenerateKey()
	t.Setenv(envKeyName, k1)
	t.Setenv(envKeyName+"_V2", k2)

	km, err := NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager: %v", err)
	}
	if km.CurrentVersion() != 2 {
		t.Errorf("CurrentVersion = %d, want 2", km.CurrentVersion())
	}

	// A value sealed under v1 must still open after rotating to v2.
	v1enc := km.encryptors[1]
	sealed, err := v1enc.Encrypt("legacy-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	opened, err := km.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if opened != "legacy-secret" {
		t.Errorf("opened = %q", opened)
	}

	fresh, err := km.Encrypt("new-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ParseVersion(fresh) != 2 {
		t.Errorf("new seal used version %d, want 2", ParseVersion(fresh))
	}
}

func TestKeyManagerRequiresPrimaryKey(t *testing.T) {
	t.Setenv(envKeyName, "")
	if _, err := NewKeyManager(); err == nil {
		t.Error("expected error without primary key")
	}
}
