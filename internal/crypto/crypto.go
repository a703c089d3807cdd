package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

// Sealer encrypts tenant access credentials before they are written into the
// shared cache store, so a cache dump does not leak live tokens.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a 16, 24 or 32 byte AES key.
func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext using AES-GCM and returns the ciphertext and nonce.
func (s *Sealer) Seal(plaintext string) ([]byte, []byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}

	ciphertext := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return ciphertext, nonce, nil
}

// Open decrypts AES-GCM sealed data.
func (s *Sealer) Open(ciphertext, nonce []byte) (string, error) {
	if len(nonce) != s.aead.NonceSize() {
		return "", errors.New("crypto: bad nonce size")
	}

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
