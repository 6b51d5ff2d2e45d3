package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	// KeySize is the symmetric key length required by the codec.
	KeySize = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// DeriveKey derives a codec key from a passphrase and salt using scrypt.
// The key is always injected into the codec by the caller; nothing in this
// package embeds key material.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("derive key: passphrase is required")
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("derive key: salt is required")
	}

	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Codec symmetrically encrypts and decrypts message text with AES-256-GCM
// under one pre-shared key. All conversations currently share the key the
// codec was built with; per-conversation keying is future work.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a codec from a 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid codec key length: got %d want %d", len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// EncryptText encrypts plaintext and returns base64(nonce || ciphertext),
// suitable for storage in a single document field.
func (c *Codec) EncryptText(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptText reverses EncryptText. Decryption never fails hard: on a wrong
// key, corrupted ciphertext, or a value that was never encrypted, it returns
// the stored value unchanged and false so the pipeline can degrade to
// rendering the raw text.
func (c *Codec) DecryptText(stored string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return stored, false
	}
	if len(raw) <= c.aead.NonceSize() {
		return stored, false
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return stored, false
	}

	return string(plaintext), true
}
