package core

import "errors"

// Domain errors. Every failure the service can surface to a caller is one of
// these sentinels; handlers map them to transport outcomes and anything else
// is treated as an internal failure.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailTaken          = errors.New("email already in use")
	ErrEmailCollision      = errors.New("email belongs to an existing account")
	ErrAlreadyLinked       = errors.New("identity already linked to another user")
	ErrUserInactive        = errors.New("user is inactive")
	ErrNotFound            = errors.New("not found")
	ErrTokenRevoked        = errors.New("refresh token revoked")
	ErrTokenExpired        = errors.New("refresh token expired")
	ErrUntrustedIdentity   = errors.New("untrusted identity claims")
	ErrInvalidToken        = errors.New("invalid token")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrUnsupportedProvider = errors.New("unsupported provider")
)
