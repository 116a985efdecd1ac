package storage

import (
	"context"
	"sync"
	"time"

	"identityd/core"
)

type identityKey struct {
	provider core.Provider
	subject  string
}

type membershipKey struct {
	userID  int64
	groupID int64
}

// MemoryRepository is a fully functional in-memory Repository used by unit
// tests and the standalone server's mock mode. It mirrors the SQLite
// repository's semantics, including the conditional revoke guard.
type MemoryRepository struct {
	mu sync.Mutex

	users        map[int64]core.User
	usersByEmail map[string]int64
	creds        map[int64]core.PasswordCredential
	identities   map[identityKey]core.AuthIdentity
	tokens       map[string]core.RefreshToken
	memberships  map[membershipKey]core.GroupMembership

	nextUserID     int64
	nextIdentityID int64
	nextTokenID    int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:        make(map[int64]core.User),
		usersByEmail: make(map[string]int64),
		creds:        make(map[int64]core.PasswordCredential),
		identities:   make(map[identityKey]core.AuthIdentity),
		tokens:       make(map[string]core.RefreshToken),
		memberships:  make(map[membershipKey]core.GroupMembership),
	}
}

func (m *MemoryRepository) FindUserByID(ctx context.Context, id int64) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &user, nil
}

func (m *MemoryRepository) FindUserByEmail(ctx context.Context, email string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.usersByEmail[email]
	if !ok {
		return nil, core.ErrNotFound
	}
	user := m.users[id]
	return &user, nil
}

func (m *MemoryRepository) CreateUser(ctx context.Context, user *core.User, cred *core.PasswordCredential, identity *core.AuthIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.usersByEmail[user.Email]; exists {
		return core.ErrEmailTaken
	}
	if identity != nil {
		key := identityKey{identity.Provider, identity.ProviderSubject}
		if _, exists := m.identities[key]; exists {
			return core.ErrAlreadyLinked
		}
	}

	now := time.Now().UTC()
	m.nextUserID++
	user.ID = m.nextUserID
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = *user
	m.usersByEmail[user.Email] = user.ID

	if cred != nil {
		cred.UserID = user.ID
		cred.PasswordUpdatedAt = now
		m.creds[user.ID] = *cred
	}

	if identity != nil {
		m.nextIdentityID++
		identity.ID = m.nextIdentityID
		identity.UserID = user.ID
		identity.CreatedAt = now
		m.identities[identityKey{identity.Provider, identity.ProviderSubject}] = *identity
	}

	return nil
}

// DeactivateUser soft-disables a user. Test helper; not part of the
// Repository interface because the core never flips the flag itself.
func (m *MemoryRepository) DeactivateUser(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user, ok := m.users[id]; ok {
		user.IsActive = false
		m.users[id] = user
	}
}

func (m *MemoryRepository) FindPasswordCredential(ctx context.Context, userID int64) (*core.PasswordCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &cred, nil
}

func (m *MemoryRepository) FindIdentity(ctx context.Context, provider core.Provider, subject string) (*core.AuthIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[identityKey{provider, subject}]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &identity, nil
}

func (m *MemoryRepository) CreateIdentity(ctx context.Context, identity *core.AuthIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identityKey{identity.Provider, identity.ProviderSubject}
	if _, exists := m.identities[key]; exists {
		return core.ErrAlreadyLinked
	}

	m.nextIdentityID++
	identity.ID = m.nextIdentityID
	identity.CreatedAt = time.Now().UTC()
	m.identities[key] = *identity

	return nil
}

func (m *MemoryRepository) CreateRefreshToken(ctx context.Context, token *core.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTokenID++
	token.ID = m.nextTokenID
	m.tokens[token.TokenHash] = *token

	return nil
}

func (m *MemoryRepository) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (*core.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[tokenHash]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &token, nil
}

func (m *MemoryRepository) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.revokeLocked(tokenHash, now, nil)
}

func (m *MemoryRepository) RotateRefreshToken(ctx context.Context, oldHash string, now time.Time, next *core.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.revokeLocked(oldHash, now, &next.TokenHash); err != nil {
		return err
	}

	m.nextTokenID++
	next.ID = m.nextTokenID
	m.tokens[next.TokenHash] = *next

	return nil
}

// revokeLocked is the in-memory equivalent of the conditional
// "UPDATE ... WHERE revoked_at IS NULL" write. Callers hold the mutex.
func (m *MemoryRepository) revokeLocked(tokenHash string, now time.Time, replacedBy *string) error {
	token, ok := m.tokens[tokenHash]
	if !ok {
		return core.ErrNotFound
	}
	if token.RevokedAt != nil {
		return core.ErrTokenRevoked
	}

	revokedAt := now
	token.RevokedAt = &revokedAt
	token.ReplacedByTokenHash = replacedBy
	m.tokens[tokenHash] = token

	return nil
}

func (m *MemoryRepository) FindGroupMembership(ctx context.Context, userID, groupID int64) (*core.GroupMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	membership, ok := m.memberships[membershipKey{userID, groupID}]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &membership, nil
}

func (m *MemoryRepository) CreateGroupMembership(ctx context.Context, membership *core.GroupMembership) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.memberships[membershipKey{membership.UserID, membership.GroupID}] = *membership
	return nil
}
