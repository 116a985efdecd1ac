package core_test

import (
	"testing"

	"identityd/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-purposes-only"

func newTestCrypto(t *testing.T) *core.CryptoService {
	t.Helper()
	crypto, err := core.NewCryptoService(testSecret, 4)
	require.NoError(t, err)
	return crypto
}

func TestNewCryptoService_WeakSecret(t *testing.T) {
	_, err := core.NewCryptoService("too-short", 4)
	assert.ErrorIs(t, err, core.ErrWeakSecret)
}

func TestHashPassword_VerifyRoundtrip(t *testing.T) {
	crypto := newTestCrypto(t)

	hash, err := crypto.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.True(t, crypto.VerifyPassword("correct horse battery staple", hash))
	assert.False(t, crypto.VerifyPassword("wrong password", hash))
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	crypto := newTestCrypto(t)

	assert.False(t, crypto.VerifyPassword("anything", "not-a-bcrypt-hash"))
	assert.False(t, crypto.VerifyPassword("anything", ""))
}

func TestGenerateRefreshSecret_Unique(t *testing.T) {
	crypto := newTestCrypto(t)

	first, err := crypto.GenerateRefreshSecret()
	require.NoError(t, err)
	second, err := crypto.GenerateRefreshSecret()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	// 48 random bytes, unpadded URL-safe base64.
	assert.Len(t, first, 64)
	assert.NotContains(t, first, "=")
}

func TestHashRefreshSecret_Deterministic(t *testing.T) {
	crypto := newTestCrypto(t)

	secret, err := crypto.GenerateRefreshSecret()
	require.NoError(t, err)

	hash1 := crypto.HashRefreshSecret(secret)
	hash2 := crypto.HashRefreshSecret(secret)
	assert.Equal(t, hash1, hash2)
	assert.NotEqual(t, secret, hash1)
	assert.Len(t, hash1, 64)
}

func TestHashRefreshSecret_KeyDependent(t *testing.T) {
	crypto1 := newTestCrypto(t)
	crypto2, err := core.NewCryptoService("another-secret-key-for-testing-purposes", 4)
	require.NoError(t, err)

	assert.NotEqual(t, crypto1.HashRefreshSecret("same-input"), crypto2.HashRefreshSecret("same-input"))
}
