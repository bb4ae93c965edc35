// Package secret implements the reversible credential transform.
//
// Portal passwords are stored as opaque blobs and decrypted only at
// execution time. The transform is ChaCha20-Poly1305 with a random
// nonce per sealing, base64-encoded for JSON transport.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt reports an undecryptable or tampered blob.
var ErrDecrypt = errors.New("cannot decrypt credential")

// Box seals and opens credential blobs with a fixed process-wide key.
type Box struct {
	key []byte
}

// NewBox derives a Box from a base64 (std or raw) encoded 32-byte key.
func NewBox(encodedKey string) (*Box, error) {
	if encodedKey == "" {
		return nil, errors.New("secret key is required")
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		key, err = base64.RawStdEncoding.DecodeString(encodedKey)
	}
	if err != nil {
		return nil, fmt.Errorf("secret key is not base64: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Box{key: key}, nil
}

// Seal encrypts a plaintext password into an opaque blob.
func (b *Box) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a blob produced by Seal. Any malformed or tampered
// input fails with ErrDecrypt.
func (b *Box) Open(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	aead, err := chacha20poly1305.New(b.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrDecrypt
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(pt), nil
}

// GenerateKey returns a fresh base64-encoded key, for provisioning.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
