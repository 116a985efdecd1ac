package core

import (
	"context"
	"errors"
	"fmt"
)

// ProviderClaims is the verified claim set returned by an identity provider
// after code exchange and token verification.
type ProviderClaims struct {
	Provider      Provider
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
}

// Validate enforces the trust gate on federated claims: a usable subject, a
// usable email and provider-side email verification.
func (c *ProviderClaims) Validate() error {
	if c.Subject == "" || c.Email == "" || !c.EmailVerified {
		return ErrUntrustedIdentity
	}
	return nil
}

// IdentityResolver maps federated claims to local users. It never merges a
// federated identity into a pre-existing account that merely shares the
// email; that path requires an authenticated link.
type IdentityResolver struct {
	repo Repository
}

func NewIdentityResolver(repo Repository) *IdentityResolver {
	return &IdentityResolver{repo: repo}
}

// ResolveOrCreate returns the local user behind verified provider claims.
// When current is non-nil the call is a link attempt on behalf of that user;
// otherwise it is a fresh federated login.
func (r *IdentityResolver) ResolveOrCreate(ctx context.Context, claims *ProviderClaims, current *User) (*User, error) {
	if err := claims.Validate(); err != nil {
		return nil, err
	}
	email := NormalizeEmail(claims.Email)

	identity, err := r.repo.FindIdentity(ctx, claims.Provider, claims.Subject)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		if current != nil && identity.UserID != current.ID {
			return nil, ErrAlreadyLinked
		}
		owner, err := r.repo.FindUserByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find identity owner: %w", err)
		}
		if !owner.IsActive {
			return nil, ErrUserInactive
		}
		return owner, nil
	}

	if current != nil {
		// Link flow: bind the new identity to the authenticated user.
		ident := &AuthIdentity{
			UserID:          current.ID,
			Provider:        claims.Provider,
			ProviderSubject: claims.Subject,
			Email:           email,
			EmailVerified:   claims.EmailVerified,
		}
		if err := r.repo.CreateIdentity(ctx, ident); err != nil {
			if errors.Is(err, ErrAlreadyLinked) {
				return nil, ErrAlreadyLinked
			}
			return nil, fmt.Errorf("failed to create identity: %w", err)
		}
		return current, nil
	}

	// Fresh federated login: refuse to merge into an email-matched account.
	if _, err := r.repo.FindUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailCollision
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	given := claims.GivenName
	if given == "" {
		given = "Google"
	}
	family := claims.FamilyName
	if family == "" {
		family = "User"
	}

	user := &User{
		FirstName: given,
		LastName:  family,
		Email:     email,
		IsActive:  true,
	}
	ident := &AuthIdentity{
		Provider:        claims.Provider,
		ProviderSubject: claims.Subject,
		Email:           email,
		EmailVerified:   claims.EmailVerified,
	}
	if err := r.repo.CreateUser(ctx, user, nil, ident); err != nil {
		// A register or exchange racing this one hit the constraint first.
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailCollision
		}
		if errors.Is(err, ErrAlreadyLinked) {
			return nil, ErrAlreadyLinked
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}
