package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// The mail credential is stored sealed; the key is derived once per process
// from the configured secret.
var gcm cipher.AEAD

var ErrNotInitialized = errors.New("crypto: keys not initialized")

// InitializeKeys derives the process encryption key from the given secret.
func InitializeKeys(secret string) error {
	if secret == "" {
		return errors.New("crypto: empty secret")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err = cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}
	return nil
}

// Encrypt seals a plaintext secret and returns a base64 token.
func Encrypt(plaintext string) (string, error) {
	if gcm == nil {
		return "", ErrNotInitialized
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt unseals a token produced by Encrypt.
func Decrypt(token string) (string, error) {
	if gcm == nil {
		return "", ErrNotInitialized
	}
	sealed, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("malformed token: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errors.New("malformed token: too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
