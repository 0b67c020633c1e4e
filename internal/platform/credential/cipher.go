// Package credential stores and opens doctors' calendar refresh tokens.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// Cipher seals refresh tokens with AES-256-GCM. The stored form is
// base64(nonce || ciphertext).
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher parses a 64 character hex key. A bad key is a configuration
// error and should stop the process at startup.
func NewCipher(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credential cipher: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("credential cipher: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt returns ok=false for anything it cannot open: bad base64, a short
// payload, or a failed authentication tag.
func (c *Cipher) Decrypt(ciphertext string) (string, bool) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", false
	}
	ns := c.aead.NonceSize()
	if len(data) < ns+c.aead.Overhead() {
		return "", false
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", false
	}
	return string(plain), true
}
