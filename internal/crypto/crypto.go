// Package crypto seals OAuth credential blobs for storage at rest.
//
// Envelope format: nonce || AES-256-GCM ciphertext. The key is process
// wide and supplied via configuration; a fresh random nonce is drawn per
// seal. Decryption failures are indistinguishable between a wrong key
// and a tampered envelope, which is the behavior we want.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// EncryptionService encrypts and decrypts small byte payloads.
type EncryptionService struct {
	aead cipher.AEAD
}

// NewEncryptionService builds a service from a 32-byte AES-256 key.
func NewEncryptionService(key []byte) (*EncryptionService, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &EncryptionService{aead: aead}, nil
}

// Encrypt seals plaintext into a nonce-prefixed envelope.
func (s *EncryptionService) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce-prefixed envelope.
func (s *EncryptionService) Decrypt(envelope []byte) ([]byte, error) {
	if len(envelope) < s.aead.NonceSize() {
		return nil, fmt.Errorf("envelope too short")
	}
	nonce, ciphertext := envelope[:s.aead.NonceSize()], envelope[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("opening envelope: %w", err)
	}
	return plaintext, nil
}
