package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredentialEncryptor_EmptyKey(t *testing.T) {
	_, err := NewCredentialEncryptor("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewCredentialEncryptor_Base64Key(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	enc, err := NewCredentialEncryptor(key)
	require.NoError(t, err)
	assert.NotNil(t, enc)
}

func TestNewCredentialEncryptor_Passphrase(t *testing.T) {
	// Anything that is not a base64 32-byte key is hashed.
	enc, err := NewCredentialEncryptor("correct horse battery staple")
	require.NoError(t, err)
	assert.NotNil(t, enc)
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	enc, err := NewCredentialEncryptor("test-key")
	require.NoError(t, err)

	for _, plaintext := range []string{"secret", "pa$$word with spaces", "日本語"} {
		ciphertext, err := enc.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, ciphertext)

		decrypted, err := enc.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestEncrypt_EmptyPassthrough(t *testing.T) {
	enc, err := NewCredentialEncryptor("test-key")
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, ciphertext)

	plaintext, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestEncrypt_NonceVaries(t *testing.T) {
	enc, err := NewCredentialEncryptor("test-key")
	require.NoError(t, err)

	a, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_WrongKey(t *testing.T) {
	enc1, err := NewCredentialEncryptor("key-one")
	require.NoError(t, err)
	enc2, err := NewCredentialEncryptor("key-two")
	require.NoError(t, err)

	ciphertext, err := enc1.Encrypt("secret")
	require.NoError(t, err)

	_, err = enc2.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecrypt_Garbage(t *testing.T) {
	enc, err := NewCredentialEncryptor("test-key")
	require.NoError(t, err)

	_, err = enc.Decrypt("not base64!!!")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = enc.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptOrEmpty_DegradesToEmpty(t *testing.T) {
	enc, err := NewCredentialEncryptor("test-key")
	require.NoError(t, err)

	// Valid ciphertext decrypts normally.
	ciphertext, err := enc.Encrypt("secret")
	require.NoError(t, err)
	assert.Equal(t, "secret", enc.DecryptOrEmpty(ciphertext))

	// Corrupt values and rotated keys degrade to a missing credential.
	assert.Empty(t, enc.DecryptOrEmpty("corrupt"))

	rotated, err := NewCredentialEncryptor("new-key")
	require.NoError(t, err)
	assert.Empty(t, rotated.DecryptOrEmpty(ciphertext))
}
