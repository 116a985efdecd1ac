package core

import (
	"context"
	"time"
)

// Repository is the transactional storage boundary. Implementations must
// translate uniqueness violations into ErrEmailTaken / ErrAlreadyLinked and
// absent rows into ErrNotFound instead of leaking driver errors.
type Repository interface {
	// User operations. CreateUser persists the user together with its
	// optional password credential and optional first identity in a single
	// transaction and fills in the generated ids.

	FindUserByID(ctx context.Context, id int64) (*User, error)

	FindUserByEmail(ctx context.Context, email string) (*User, error)

	CreateUser(ctx context.Context, user *User, cred *PasswordCredential, identity *AuthIdentity) error

	// Credential operations

	FindPasswordCredential(ctx context.Context, userID int64) (*PasswordCredential, error)

	// Identity operations

	FindIdentity(ctx context.Context, provider Provider, subject string) (*AuthIdentity, error)

	CreateIdentity(ctx context.Context, identity *AuthIdentity) error

	// RefreshToken operations. RevokeRefreshToken is a conditional write: it
	// only touches rows whose revoked_at is still null and reports
	// ErrTokenRevoked otherwise. RotateRefreshToken performs the conditional
	// revoke (recording next's hash as the replacement) and the insert of
	// next atomically, so concurrent rotations of one secret produce exactly
	// one winner.

	CreateRefreshToken(ctx context.Context, token *RefreshToken) error

	FindRefreshTokenByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error

	RotateRefreshToken(ctx context.Context, oldHash string, now time.Time, next *RefreshToken) error

	// Group membership operations

	FindGroupMembership(ctx context.Context, userID, groupID int64) (*GroupMembership, error)

	CreateGroupMembership(ctx context.Context, membership *GroupMembership) error
}
