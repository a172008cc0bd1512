// Package crypto seals venue API credentials so the roster file can be
// checked in without plaintext secrets. Sealed values carry a key version
// prefix, which lets keys rotate without re-sealing everything at once.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12

	sealedPrefix = "ENC[v"
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid sealed value format")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// IsSealed reports whether a value is in the sealed ENC[vN]: format.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// Encryptor seals and opens values with AES-256-GCM under one key version.
type Encryptor struct {
	key     []byte
	version int
}

// NewEncryptor creates an Encryptor. The key must be 32 bytes.
func NewEncryptor(key []byte, version int) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Encryptor{key: key, version: version}, nil
}

// Encrypt seals plaintext as ENC[vN]:base64(nonce+ciphertext).
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	gcm, err := e.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("ENC[v%d]:%s", e.version, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Decrypt opens a value produced by Encrypt.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if !IsSealed(ciphertext) {
		return "", ErrInvalidCiphertext
	}
	sep := strings.Index(ciphertext, "]:")
	if sep == -1 {
		return "", ErrInvalidCiphertext
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext[sep+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < NonceSize {
		return "", ErrInvalidCiphertext
	}

	gcm, err := e.aead()
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func (e *Encryptor) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// ParseVersion extracts the key version from a sealed value, 0 if malformed.
func ParseVersion(ciphertext string) int {
	if !IsSealed(ciphertext) {
		return 0
	}
	var version int
	if _, err := fmt.Sscanf(ciphertext, "ENC[v%d]:", &version); err != nil {
		return 0
	}
	return version
}
