package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Keys come from the environment: CREDENTIAL_KEY holds version 1 and
// CREDENTIAL_KEY_V2..V10 hold later versions. New values seal with the
// highest loaded version; old versions stay available for opening.
const envKeyName = "CREDENTIAL_KEY"

var (
	ErrKeyNotFound  = errors.New("credential key not found")
	ErrKeyNotLoaded = errors.New("key manager not initialized")
)

// KeyManager holds the loaded key versions.
type KeyManager struct {
	mu         sync.RWMutex
	currentVer int
	encryptors map[int]*Encryptor
}

// NewKeyManager loads credential keys from the environment. It fails when
// CREDENTIAL_KEY is missing or malformed.
func NewKeyManager() (*KeyManager, error) {
	km := &KeyManager{encryptors: make(map[int]*Encryptor)}

	if err := km.loadKey(1, envKeyName); err != nil {
		return nil, fmt.Errorf("load primary key: %w", err)
	}
	km.currentVer = 1

	for v := 2; v <= 10; v++ {
		if err := km.loadKey(v, fmt.Sprintf("%s_V%d", envKeyName, v)); err == nil {
			km.currentVer = v
		}
	}
	return km, nil
}

func (km *KeyManager) loadKey(version int, envName string) error {
	encoded := os.Getenv(envName)
	if encoded == "" {
		return ErrKeyNotFound
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode key %s: %w", envName, err)
	}
	enc, err := NewEncryptor(key, version)
	if err != nil {
		return fmt.Errorf("create encryptor v%d: %w", version, err)
	}
	km.encryptors[version] = enc
	return nil
}

// Encrypt seals plaintext with the newest key version.
func (km *KeyManager) Encrypt(plaintext string) (string, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	enc, ok := km.encryptors[km.currentVer]
	if !ok {
		return "", ErrKeyNotLoaded
	}
	return enc.Encrypt(plaintext)
}

// Decrypt opens a sealed value with whichever key version sealed it.
func (km *KeyManager) Decrypt(ciphertext string) (string, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	version := ParseVersion(ciphertext)
	if version == 0 {
		return "", ErrInvalidCiphertext
	}
	enc, ok := km.encryptors[version]
	if !ok {
		return "", fmt.Errorf("key version %d not available", version)
	}
	return enc.Decrypt(ciphertext)
}

// CurrentVersion reports the version used for new seals.
func (km *KeyManager) CurrentVersion() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.currentVer
}

// GenerateKey returns a fresh base64-encoded AES-256 key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
