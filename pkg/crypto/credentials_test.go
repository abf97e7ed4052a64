package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openssl rand -base64 32
const testKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="

func TestNewCredentialEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"32-byte base64 key", testKey, false},
		{"empty key", "", true},
		{"passphrase", "cyfm-demo-passphrase", false},
		{"short base64 key is hashed", base64.StdEncoding.EncodeToString([]byte("sixteen-byte-key")), false},
		{"long base64 key is hashed", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 64))), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewCredentialEncryptor(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, enc)
		})
	}
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	for _, plaintext := range []string{"", "secret", "p@ss:w0rd/with?url&chars", "口令-中文", strings.Repeat("a", 4096)} {
		ct, err := enc.Encrypt(plaintext)
		require.NoError(t, err)
		if plaintext == "" {
			assert.Empty(t, ct)
		} else {
			assert.NotEqual(t, plaintext, ct)
		}

		pt, err := enc.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, plaintext, pt)
	}
}

func TestEncrypt_UniqueNonces(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	a, err := enc.Encrypt("same")
	require.NoError(t, err)
	b, err := enc.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPassphraseKeyConsistency(t *testing.T) {
	enc1, err := NewCredentialEncryptor("shared-passphrase")
	require.NoError(t, err)
	enc2, err := NewCredentialEncryptor("shared-passphrase")
	require.NoError(t, err)

	ct, err := enc1.Encrypt("secret")
	require.NoError(t, err)
	pt, err := enc2.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "secret", pt)
}

func TestDecrypt_Failures(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)
	other, err := NewCredentialEncryptor("another key")
	require.NoError(t, err)

	ct, err := enc.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(ct)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = enc.Decrypt("not base64!!")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = enc.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSealOpen(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	require.NoError(t, err)

	sealed, err := enc.Seal("test_password")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))
	assert.True(t, strings.HasPrefix(sealed, EncryptedPrefix))

	opened, err := enc.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "test_password", opened)

	plain, err := enc.Open("plain-password")
	require.NoError(t, err)
	assert.Equal(t, "plain-password", plain, "unprefixed values pass through")

	empty, err := enc.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
