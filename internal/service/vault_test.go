package service

import (
	"bytes"
	"testing"

	"github.com/reelcut/reelcut/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestVaultRoundTrip(t *testing.T) {
	vault, err := NewVault(testMasterKey())
	require.NoError(t, err)

	ciphertext, nonce, err := vault.Encrypt("sk-model-key")
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "sk-model-key")

	plaintext, err := vault.Decrypt(ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, "sk-model-key", plaintext)
}

func TestVaultFreshNoncePerEncrypt(t *testing.T) {
	vault, err := NewVault(testMasterKey())
	require.NoError(t, err)

	_, nonce1, err := vault.Encrypt("same")
	require.NoError(t, err)
	_, nonce2, err := vault.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, nonce1, nonce2)
}

func TestVaultTamperedCiphertextIsCredentialFault(t *testing.T) {
	vault, err := NewVault(testMasterKey())
	require.NoError(t, err)

	ciphertext, nonce, err := vault.Encrypt("sk-model-key")
	require.NoError(t, err)
	ciphertext[0] ^= 0xff

	_, err = vault.Decrypt(ciphertext, nonce)
	require.Error(t, err)
	assert.Equal(t, fault.KindCredential, fault.KindOf(err))
}

func TestVaultWrongKeyIsCredentialFault(t *testing.T) {
	vault, err := NewVault(testMasterKey())
	require.NoError(t, err)
	other, err := NewVault(bytes.Repeat([]byte{0x24}, 32))
	require.NoError(t, err)

	ciphertext, nonce, err := vault.Encrypt("sk-model-key")
	require.NoError(t, err)

	_, err = other.Decrypt(ciphertext, nonce)
	require.Error(t, err)
	assert.Equal(t, fault.KindCredential, fault.KindOf(err))
}

func TestNewVaultRejectsShortKey(t *testing.T) {
	_, err := NewVault([]byte("short"))
	require.Error(t, err)
}
