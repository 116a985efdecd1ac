package core_test

import (
	"context"
	"testing"

	"identityd/core"
	"identityd/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func googleClaims(subject, email string) *core.ProviderClaims {
	return &core.ProviderClaims{
		Provider:      core.ProviderGoogle,
		Subject:       subject,
		Email:         email,
		EmailVerified: true,
		GivenName:     "Ada",
		FamilyName:    "Lovelace",
	}
}

func TestResolveOrCreate_FreshLogin(t *testing.T) {
	repo := storage.NewMemoryRepository()
	resolver := core.NewIdentityResolver(repo)

	user, err := resolver.ResolveOrCreate(context.Background(), googleClaims("sub-1", "ada@example.com"), nil)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Equal(t, "Lovelace", user.LastName)
	assert.True(t, user.IsActive)

	identity, err := repo.FindIdentity(context.Background(), core.ProviderGoogle, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)

	// A password credential must not exist for a federated-only account.
	_, err = repo.FindPasswordCredential(context.Background(), user.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestResolveOrCreate_RepeatLogin(t *testing.T) {
	repo := storage.NewMemoryRepository()
	resolver := core.NewIdentityResolver(repo)

	first, err := resolver.ResolveOrCreate(context.Background(), googleClaims("sub-1", "ada@example.com"), nil)
	require.NoError(t, err)

	second, err := resolver.ResolveOrCreate(context.Background(), googleClaims("sub-1", "ada@example.com"), nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveOrCreate_PlaceholderNames(t *testing.T) {
	repo := storage.NewMemoryRepository()
	resolver := core.NewIdentityResolver(repo)

	claims := googleClaims("sub-1", "ada@example.com")
	claims.GivenName = ""
	claims.FamilyName = ""

	user, err := resolver.ResolveOrCreate(context.Background(), claims, nil)
	require.NoError(t, err)
	assert.Equal(t, "Google", user.FirstName)
	assert.Equal(t, "User", user.LastName)
}

func TestResolveOrCreate_EmailCollision(t *testing.T) {
	repo := storage.NewMemoryRepository()
	resolver := core.NewIdentityResolver(repo)

	existing := &core.User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", IsActive: true}
	require.NoError(t, repo.CreateUser(context.Background(), existing, nil, nil))

	_, err := resolver.ResolveOrCreate(context.Background(), googleClaims("sub-1", "ada@example.com"), nil)
	assert.ErrorIs(t, err, core.ErrEmailCollision)

	// The collision must not create an identity behind the existing account.
	_, err = repo.FindIdentity(context.Background(), core.ProviderGoogle, "sub-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestResolveOrCreate_EmailCollisionCaseInsensitive(t *testing.T) {
	repo := storage.NewMemoryRepository()
	resolver := core.NewIdentityResolver(repo)

	existing := &core.User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", IsActive: true}
	require.NoError(t, repo.CreateUser(context.Background(), existing, nil, nil))

	_, err := resolver.ResolveOrCreate(context.Background(), googleClaims("sub-1", "Ada@Example.COM"), nil)
	assert.ErrorIs(t, err, core.ErrEmailCollision)
}

func TestResolveOrCreate_Link(t *testing.T) {
	repo := storage.NewMemoryRepository()
	resolver := core.NewIdentityResolver(repo)

	current := &core.User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", IsActive: true}
	require.NoError(t, repo.CreateUser(context.Background(), current, nil, nil))

	user, err := resolver.ResolveOrCreate(context.Background(), googleClaims("sub-1", "other@gmail.com"), current)
	require.NoError(t, err)
	assert.Equal(t, current.ID, user.ID)

	identity, err := repo.FindIdentity(context.Background(), core.ProviderGoogle, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, current.ID, identity.UserID)
}

func TestResolveOrCreate_LinkConflict(t *testing.T) {
	repo := storage.NewMemoryRepository()
	resolver := core.NewIdentityResolver(repo)

	owner, err := resolver.ResolveOrCreate(context.Background(), googleClaims("sub-1", "owner@example.com"), nil)
	require.NoError(t, err)

	current := &core.User{FirstName: "Eve", LastName: "Intruder", Email: "eve@example.com", IsActive: true}
	require.NoError(t, repo.CreateUser(context.Background(), current, nil, nil))
	require.NotEqual(t, owner.ID, current.ID)

	_, err = resolver.ResolveOrCreate(context.Background(), googleClaims("sub-1", "owner@example.com"), current)
	assert.ErrorIs(t, err, core.ErrAlreadyLinked)
}

func TestResolveOrCreate_LinkIdempotent(t *testing.T) {
	repo := storage.NewMemoryRepository()
	resolver := core.NewIdentityResolver(repo)

	current := &core.User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", IsActive: true}
	require.NoError(t, repo.CreateUser(context.Background(), current, nil, nil))

	_, err := resolver.ResolveOrCreate(context.Background(), googleClaims("sub-1", "other@gmail.com"), current)
	require.NoError(t, err)

	// Linking the same identity again resolves to the same owner.
	user, err := resolver.ResolveOrCreate(context.Background(), googleClaims("sub-1", "other@gmail.com"), current)
	require.NoError(t, err)
	assert.Equal(t, current.ID, user.ID)
}

func TestResolveOrCreate_UnverifiedEmail(t *testing.T) {
	repo := storage.NewMemoryRepository()
	resolver := core.NewIdentityResolver(repo)

	claims := googleClaims("sub-1", "ada@example.com")
	claims.EmailVerified = false

	_, err := resolver.ResolveOrCreate(context.Background(), claims, nil)
	assert.ErrorIs(t, err, core.ErrUntrustedIdentity)
}

func TestResolveOrCreate_MissingSubject(t *testing.T) {
	repo := storage.NewMemoryRepository()
	resolver := core.NewIdentityResolver(repo)

	claims := googleClaims("", "ada@example.com")

	_, err := resolver.ResolveOrCreate(context.Background(), claims, nil)
	assert.ErrorIs(t, err, core.ErrUntrustedIdentity)
}

func TestResolveOrCreate_InactiveOwner(t *testing.T) {
	repo := storage.NewMemoryRepository()
	resolver := core.NewIdentityResolver(repo)

	owner, err := resolver.ResolveOrCreate(context.Background(), googleClaims("sub-1", "ada@example.com"), nil)
	require.NoError(t, err)

	repo.DeactivateUser(owner.ID)

	_, err = resolver.ResolveOrCreate(context.Background(), googleClaims("sub-1", "ada@example.com"), nil)
	assert.ErrorIs(t, err, core.ErrUserInactive)
}
