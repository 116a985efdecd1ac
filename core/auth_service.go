package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type RegisterRequest struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Password  string
}

// AuthResult is the outcome of every token-issuing flow: the resolved user,
// a signed access token and the plaintext refresh secret for the session
// carrier.
type AuthResult struct {
	User             *User
	AccessToken      string
	RefreshSecret    string
	RefreshExpiresAt time.Time
}

// AuthService orchestrates the register/login/refresh/logout/federated flows
// over the credential hasher, token codec, refresh token store and identity
// resolver.
type AuthService struct {
	repo      Repository
	config    *Config
	crypto    *CryptoService
	tokens    *RefreshTokenStore
	resolver  *IdentityResolver
	providers map[Provider]IdentityProvider
}

func NewAuthService(repo Repository, config *Config, crypto *CryptoService, providers map[Provider]IdentityProvider) *AuthService {
	return &AuthService{
		repo:      repo,
		config:    config,
		crypto:    crypto,
		tokens:    NewRefreshTokenStore(repo, crypto, config.RefreshTokenTTL()),
		resolver:  NewIdentityResolver(repo),
		providers: providers,
	}
}

// Register creates a user with a password credential and a password identity,
// then starts a session. A duplicate normalized email fails with
// ErrEmailTaken and leaves no partial rows behind.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest, meta RequestMetadata) (*AuthResult, error) {
	email := NormalizeEmail(req.Email)

	passwordHash, err := s.crypto.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	var phone *string
	if p := strings.TrimSpace(req.Phone); p != "" {
		phone = &p
	}

	user := &User{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     email,
		Phone:     phone,
		IsActive:  true,
	}
	cred := &PasswordCredential{PasswordHash: passwordHash}
	identity := &AuthIdentity{
		Provider:        ProviderPassword,
		ProviderSubject: email,
		Email:           email,
		EmailVerified:   false,
	}

	if err := s.repo.CreateUser(ctx, user, cred, identity); err != nil {
		// The password identity subject is the email, so either constraint
		// firing means the address is taken.
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrAlreadyLinked) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.issueTokens(ctx, user, meta)
}

// Login verifies email+password and starts a session. Unknown email,
// inactive user and wrong password are deliberately indistinguishable.
func (s *AuthService) Login(ctx context.Context, email, password string, meta RequestMetadata) (*AuthResult, error) {
	user, err := s.repo.FindUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	cred, err := s.repo.FindPasswordCredential(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	if !s.crypto.VerifyPassword(password, cred.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.issueTokens(ctx, user, meta)
}

// Refresh rotates a presented refresh secret and issues a fresh access
// token. Every validation failure surfaces as ErrUnauthenticated so the
// caller knows to drop its session carrier.
func (s *AuthService) Refresh(ctx context.Context, presented string, meta RequestMetadata) (*AuthResult, error) {
	now := time.Now().UTC()

	secret, record, err := s.tokens.Rotate(ctx, presented, meta, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTokenRevoked) || errors.Is(err, ErrTokenExpired) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}

	user, err := s.repo.FindUserByID(ctx, record.UserID)
	if err != nil {
		_ = s.tokens.Revoke(ctx, secret, now)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !user.IsActive {
		_ = s.tokens.Revoke(ctx, secret, now)
		return nil, ErrUnauthenticated
	}

	accessToken, err := GenerateAccessToken(user.ID, s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &AuthResult{
		User:             user,
		AccessToken:      accessToken,
		RefreshSecret:    secret,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

// Logout revokes the session behind the presented secret. Always succeeds:
// an empty, unknown or already-revoked secret is a no-op.
func (s *AuthService) Logout(ctx context.Context, presented string) error {
	if presented == "" {
		return nil
	}
	return s.tokens.Revoke(ctx, presented, time.Now().UTC())
}

// ExchangeFederated handles a fresh federated login: code exchange, claims
// validation, identity resolution and session start.
func (s *AuthService) ExchangeFederated(ctx context.Context, provider Provider, code, codeVerifier, redirectURI string, meta RequestMetadata) (*AuthResult, error) {
	claims, err := s.exchange(ctx, provider, code, codeVerifier, redirectURI)
	if err != nil {
		return nil, err
	}

	user, err := s.resolver.ResolveOrCreate(ctx, claims, nil)
	if err != nil {
		return nil, err
	}

	return s.issueTokens(ctx, user, meta)
}

// LinkFederated binds a federated identity to the already-authenticated
// current user, then starts a session for them.
func (s *AuthService) LinkFederated(ctx context.Context, current *User, provider Provider, code, codeVerifier, redirectURI string, meta RequestMetadata) (*AuthResult, error) {
	claims, err := s.exchange(ctx, provider, code, codeVerifier, redirectURI)
	if err != nil {
		return nil, err
	}

	user, err := s.resolver.ResolveOrCreate(ctx, claims, current)
	if err != nil {
		return nil, err
	}

	return s.issueTokens(ctx, user, meta)
}

// CurrentUser resolves a bearer access token to an active user.
func (s *AuthService) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	userID, err := ValidateAccessToken(accessToken, s.config)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUnauthenticated
	}
	return user, nil
}

// GroupRole returns the user's role in a group, or ErrNotFound when the user
// is not a member.
func (s *AuthService) GroupRole(ctx context.Context, userID, groupID int64) (string, error) {
	membership, err := s.repo.FindGroupMembership(ctx, userID, groupID)
	if err != nil {
		return "", err
	}
	return membership.Role, nil
}

func (s *AuthService) exchange(ctx context.Context, provider Provider, code, codeVerifier, redirectURI string) (*ProviderClaims, error) {
	identityProvider, ok := s.providers[provider]
	if !ok {
		return nil, ErrUnsupportedProvider
	}

	claims, err := identityProvider.Exchange(ctx, code, codeVerifier, redirectURI)
	if err != nil {
		return nil, err
	}
	if err := claims.Validate(); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *User, meta RequestMetadata) (*AuthResult, error) {
	now := time.Now().UTC()

	secret, record, err := s.tokens.Issue(ctx, user.ID, meta, now)
	if err != nil {
		return nil, err
	}

	accessToken, err := GenerateAccessToken(user.ID, s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &AuthResult{
		User:             user,
		AccessToken:      accessToken,
		RefreshSecret:    secret,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}
