package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RefreshTokenStore issues, rotates and revokes the opaque refresh tokens
// backing session continuity. Plaintext secrets exist only in return values;
// storage sees keyed hashes.
type RefreshTokenStore struct {
	repo   Repository
	crypto *CryptoService
	ttl    time.Duration
}

func NewRefreshTokenStore(repo Repository, crypto *CryptoService, ttl time.Duration) *RefreshTokenStore {
	return &RefreshTokenStore{
		repo:   repo,
		crypto: crypto,
		ttl:    ttl,
	}
}

// Issue mints a new session lineage for a user and returns the plaintext
// secret alongside the persisted record. The secret is not re-derivable from
// storage.
func (s *RefreshTokenStore) Issue(ctx context.Context, userID int64, meta RequestMetadata, now time.Time) (string, *RefreshToken, error) {
	secret, err := s.crypto.GenerateRefreshSecret()
	if err != nil {
		return "", nil, err
	}

	record := &RefreshToken{
		UserID:    userID,
		TokenHash: s.crypto.HashRefreshSecret(secret),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
	}

	if err := s.repo.CreateRefreshToken(ctx, record); err != nil {
		return "", nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	return secret, record, nil
}

// Rotate exchanges a still-valid secret for a fresh one. The presented record
// ends up revoked on every path that reaches it: pointing at its replacement
// on success, terminal with no replacement when it had already expired.
// Presenting a revoked secret fails with ErrTokenRevoked regardless of
// timing; the conditional write in the repository guarantees a single winner
// under concurrent rotation.
func (s *RefreshTokenStore) Rotate(ctx context.Context, presented string, meta RequestMetadata, now time.Time) (string, *RefreshToken, error) {
	hash := s.crypto.HashRefreshSecret(presented)

	current, err := s.repo.FindRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	if current.Revoked() {
		return "", nil, ErrTokenRevoked
	}

	if current.Expired(now) {
		// Mark the row terminal so the lineage cannot be resurrected later.
		_ = s.repo.RevokeRefreshToken(ctx, hash, now)
		return "", nil, ErrTokenExpired
	}

	secret, err := s.crypto.GenerateRefreshSecret()
	if err != nil {
		return "", nil, err
	}

	next := &RefreshToken{
		UserID:    current.UserID,
		TokenHash: s.crypto.HashRefreshSecret(secret),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
	}

	if err := s.repo.RotateRefreshToken(ctx, hash, now, next); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return "", nil, ErrTokenRevoked
		}
		return "", nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return secret, next, nil
}

// Revoke invalidates the session behind a presented secret. It is idempotent:
// unknown and already-revoked secrets are not errors.
func (s *RefreshTokenStore) Revoke(ctx context.Context, presented string, now time.Time) error {
	hash := s.crypto.HashRefreshSecret(presented)

	err := s.repo.RevokeRefreshToken(ctx, hash, now)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrTokenRevoked) {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}
