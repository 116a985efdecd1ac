package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"identityd/core"
)

const (
	defaultOAuthBaseURL    = "https://oauth2.googleapis.com"
	defaultUserInfoBaseURL = "https://www.googleapis.com"

	// External provider calls fail fast instead of hanging the request.
	providerTimeout = 15 * time.Second
)

type GoogleConfig struct {
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	OAuthBaseURL    string `yaml:"oauth_base_url"`
	UserInfoBaseURL string `yaml:"userinfo_base_url"`
}

type GoogleProvider struct {
	config     *GoogleConfig
	httpClient *http.Client
}

func NewGoogleProvider(config *GoogleConfig) *GoogleProvider {
	if config.OAuthBaseURL == "" {
		config.OAuthBaseURL = defaultOAuthBaseURL
	}
	if config.UserInfoBaseURL == "" {
		config.UserInfoBaseURL = defaultUserInfoBaseURL
	}
	return &GoogleProvider{
		config:     config,
		httpClient: &http.Client{Timeout: providerTimeout},
	}
}

type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

// Exchange trades an authorization code for Google-verified identity claims:
// code -> provider tokens -> userinfo. Transport failures surface as
// ErrProviderUnavailable; a rejected code or rejected token surfaces as
// ErrUntrustedIdentity.
func (g *GoogleProvider) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (*core.ProviderClaims, error) {
	tokens, err := g.exchangeCode(ctx, code, codeVerifier, redirectURI)
	if err != nil {
		return nil, err
	}

	info, err := g.fetchUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	return &core.ProviderClaims{
		Provider:      core.ProviderGoogle,
		Subject:       info.ID,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
	}, nil
}

func (g *GoogleProvider) exchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*googleTokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("client_id", g.config.ClientID)
	data.Set("client_secret", g.config.ClientSecret)
	data.Set("redirect_uri", redirectURI)
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}

	tokenURL := g.config.OAuthBaseURL + "/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: token endpoint status %d: %s", core.ErrUntrustedIdentity, resp.StatusCode, string(body))
	}

	var tokenResp googleTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
	}

	return &tokenResp, nil
}

func (g *GoogleProvider) fetchUserInfo(ctx context.Context, accessToken string) (*googleUserInfo, error) {
	userinfoURL := g.config.UserInfoBaseURL + "/oauth2/v2/userinfo"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: userinfo status %d: %s", core.ErrUntrustedIdentity, resp.StatusCode, string(body))
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
	}

	return &info, nil
}

func (g *GoogleProvider) Provider() core.Provider {
	return core.ProviderGoogle
}
