package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("admin-api-key-123", "correct horse")
	require.NoError(t, err)

	secret, err := DecryptSecret(blob, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "admin-api-key-123", secret)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("admin-api-key-123", "correct horse")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "battery staple")
	assert.Error(t, err)
}

func TestLoadSecretPrefersRaw(t *testing.T) {
	secret, err := LoadSecret(SecretConfig{RawSecret: "plain"})
	require.NoError(t, err)
	assert.Equal(t, "plain", secret)
}

func TestLoadSecretFromFile(t *testing.T) {
	blob, err := EncryptSecret("from-disk", "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	secret, err := LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-disk", secret)
}

func TestLoadSecretNoSource(t *testing.T) {
	_, err := LoadSecret(SecretConfig{})
	assert.Error(t, err)
}
