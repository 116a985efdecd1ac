package core

import (
	"strings"
	"time"
)

// Provider identifies a login method bound to a user.
type Provider string

const (
	ProviderPassword Provider = "password"
	ProviderGoogle   Provider = "google"
	// Future providers can be added here
)

// User is the identity record. It is soft-disabled via IsActive and never
// hard-deleted by this service.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
	Phone     *string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PasswordCredential holds a user's bcrypt password hash, one per user.
type PasswordCredential struct {
	UserID            int64
	PasswordHash      string
	PasswordUpdatedAt time.Time
}

// AuthIdentity binds a login method to a user. The (Provider,
// ProviderSubject) pair is globally unique.
type AuthIdentity struct {
	ID              int64
	UserID          int64
	Provider        Provider
	ProviderSubject string
	Email           string
	EmailVerified   bool
	CreatedAt       time.Time
}

// RefreshToken is one link in a session lineage. Only the keyed hash of the
// opaque secret is persisted; rotation revokes the row and records the hash
// of its replacement, forming a forward-only chain.
type RefreshToken struct {
	ID                  int64
	UserID              int64
	TokenHash           string
	IssuedAt            time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedByTokenHash *string
	UserAgent           string
	IPAddress           string
}

func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// GroupMembership records a user's role inside a group. The service only
// reads it, to gate group endpoints.
type GroupMembership struct {
	UserID  int64
	GroupID int64
	Role    string
}

// RequestMetadata is audit context captured per session.
type RequestMetadata struct {
	UserAgent string
	IPAddress string
}

// NormalizeEmail lowers and trims an email so lookups and the uniqueness
// constraint are case and whitespace insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
