package core

import "context"

// IdentityProvider exchanges an authorization code at an external provider
// and returns the claims it vouches for. Implementations own transport,
// timeouts and provider-side verification; callers still run the claims
// through ProviderClaims.Validate.
type IdentityProvider interface {
	Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (*ProviderClaims, error)

	Provider() Provider
}
