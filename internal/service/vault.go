package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/reelcut/reelcut/internal/fault"
)

// Vault encrypts principal model API keys at rest with AES-256-GCM under
// the service master key. Plaintext keys exist only in memory, bound to
// a single pipeline run.
type Vault struct {
	aead cipher.AEAD
}

// NewVault creates a vault from a 32-byte master key.
func NewVault(masterKey []byte) (*Vault, error) {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals the plaintext under a fresh nonce.
func (v *Vault) Encrypt(plaintext string) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	return v.aead.Seal(nil, nonce, []byte(plaintext), nil), nonce, nil
}

// Decrypt opens a sealed credential. Tamper or key mismatch surfaces as
// a credential fault rather than a crypto error.
func (v *Vault) Decrypt(ciphertext, nonce []byte) (string, error) {
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fault.Wrap(fault.KindCredential, "decrypting stored credential", err)
	}
	return string(plaintext), nil
}
