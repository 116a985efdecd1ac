package providers

import (
	"context"
	"fmt"

	"identityd/core"
)

const ProviderMock core.Provider = "mock"

// Codes the mock provider accepts out of the box.
const (
	ValidCode1     = "valid_code_1"
	ValidCode2     = "valid_code_2"
	UnverifiedCode = "unverified_code"
)

// MockProvider resolves canned authorization codes to claims without any
// network traffic. Tests can register extra codes via SetClaims.
type MockProvider struct {
	claims map[string]*core.ProviderClaims

	ExchangeCalls int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		claims: map[string]*core.ProviderClaims{
			ValidCode1: {
				Provider:      ProviderMock,
				Subject:       "mock_user_1",
				Email:         "user1@example.com",
				EmailVerified: true,
				GivenName:     "Test",
				FamilyName:    "UserOne",
			},
			ValidCode2: {
				Provider:      ProviderMock,
				Subject:       "mock_user_2",
				Email:         "user2@example.com",
				EmailVerified: true,
				GivenName:     "Test",
				FamilyName:    "UserTwo",
			},
			UnverifiedCode: {
				Provider:      ProviderMock,
				Subject:       "mock_user_unverified",
				Email:         "unverified@example.com",
				EmailVerified: false,
			},
		},
	}
}

// SetClaims registers or replaces the claims returned for a code.
func (m *MockProvider) SetClaims(code string, claims *core.ProviderClaims) {
	m.claims[code] = claims
}

func (m *MockProvider) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (*core.ProviderClaims, error) {
	m.ExchangeCalls++

	claims, ok := m.claims[code]
	if !ok {
		return nil, fmt.Errorf("%w: unknown authorization code", core.ErrUntrustedIdentity)
	}
	copied := *claims
	return &copied, nil
}

func (m *MockProvider) Provider() core.Provider {
	return ProviderMock
}
