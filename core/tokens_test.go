package core_test

import (
	"context"
	"testing"
	"time"

	"identityd/core"
	"identityd/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenStore(t *testing.T, ttl time.Duration) (*core.RefreshTokenStore, *storage.MemoryRepository, *core.CryptoService) {
	t.Helper()
	repo := storage.NewMemoryRepository()
	crypto := newTestCrypto(t)
	return core.NewRefreshTokenStore(repo, crypto, ttl), repo, crypto
}

func testMeta() core.RequestMetadata {
	return core.RequestMetadata{UserAgent: "test-agent", IPAddress: "192.0.2.1"}
}

func TestTokenStore_Issue(t *testing.T) {
	store, repo, crypto := newTestTokenStore(t, time.Hour)
	now := time.Now().UTC()

	secret, record, err := store.Issue(context.Background(), 1, testMeta(), now)
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	// The plaintext secret is never persisted, only its keyed hash.
	assert.Equal(t, crypto.HashRefreshSecret(secret), record.TokenHash)
	assert.Equal(t, int64(1), record.UserID)
	assert.Equal(t, now.Add(time.Hour), record.ExpiresAt)
	assert.Equal(t, "test-agent", record.UserAgent)
	assert.Equal(t, "192.0.2.1", record.IPAddress)

	stored, err := repo.FindRefreshTokenByHash(context.Background(), record.TokenHash)
	require.NoError(t, err)
	assert.False(t, stored.Revoked())
}

func TestTokenStore_Rotate(t *testing.T) {
	store, repo, crypto := newTestTokenStore(t, time.Hour)
	now := time.Now().UTC()

	oldSecret, oldRecord, err := store.Issue(context.Background(), 1, testMeta(), now)
	require.NoError(t, err)

	newSecret, newRecord, err := store.Rotate(context.Background(), oldSecret, testMeta(), now.Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, oldSecret, newSecret)
	assert.Equal(t, int64(1), newRecord.UserID)

	// The presented row is revoked and points at its replacement.
	stored, err := repo.FindRefreshTokenByHash(context.Background(), oldRecord.TokenHash)
	require.NoError(t, err)
	assert.True(t, stored.Revoked())
	require.NotNil(t, stored.ReplacedByTokenHash)
	assert.Equal(t, crypto.HashRefreshSecret(newSecret), *stored.ReplacedByTokenHash)
}

func TestTokenStore_RotateUnknown(t *testing.T) {
	store, _, _ := newTestTokenStore(t, time.Hour)

	_, _, err := store.Rotate(context.Background(), "never-issued", testMeta(), time.Now().UTC())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTokenStore_RotateRevoked(t *testing.T) {
	store, _, _ := newTestTokenStore(t, time.Hour)
	now := time.Now().UTC()

	oldSecret, _, err := store.Issue(context.Background(), 1, testMeta(), now)
	require.NoError(t, err)

	_, _, err = store.Rotate(context.Background(), oldSecret, testMeta(), now.Add(time.Minute))
	require.NoError(t, err)

	// Replaying the consumed secret is the reuse signal.
	_, _, err = store.Rotate(context.Background(), oldSecret, testMeta(), now.Add(2*time.Minute))
	assert.ErrorIs(t, err, core.ErrTokenRevoked)
}

func TestTokenStore_RotateExpired(t *testing.T) {
	store, repo, _ := newTestTokenStore(t, time.Hour)
	now := time.Now().UTC()

	secret, record, err := store.Issue(context.Background(), 1, testMeta(), now)
	require.NoError(t, err)

	_, _, err = store.Rotate(context.Background(), secret, testMeta(), now.Add(2*time.Hour))
	assert.ErrorIs(t, err, core.ErrTokenExpired)

	// Expired presentation leaves the row terminally revoked with no successor.
	stored, err := repo.FindRefreshTokenByHash(context.Background(), record.TokenHash)
	require.NoError(t, err)
	assert.True(t, stored.Revoked())
	assert.Nil(t, stored.ReplacedByTokenHash)
}

func TestTokenStore_RotateAtExactExpiry(t *testing.T) {
	store, _, _ := newTestTokenStore(t, time.Hour)
	now := time.Now().UTC()

	secret, record, err := store.Issue(context.Background(), 1, testMeta(), now)
	require.NoError(t, err)

	_, _, err = store.Rotate(context.Background(), secret, testMeta(), record.ExpiresAt)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestTokenStore_RevokeIdempotent(t *testing.T) {
	store, repo, _ := newTestTokenStore(t, time.Hour)
	now := time.Now().UTC()

	secret, record, err := store.Issue(context.Background(), 1, testMeta(), now)
	require.NoError(t, err)

	require.NoError(t, store.Revoke(context.Background(), secret, now))
	require.NoError(t, store.Revoke(context.Background(), secret, now))
	require.NoError(t, store.Revoke(context.Background(), "never-issued", now))

	stored, err := repo.FindRefreshTokenByHash(context.Background(), record.TokenHash)
	require.NoError(t, err)
	assert.True(t, stored.Revoked())
}
