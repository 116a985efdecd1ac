package integration_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

type mockUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

var mockUsers = map[string]mockUser{
	"valid_code_1": {
		ID:            "google_user_1",
		Email:         "user1@example.com",
		VerifiedEmail: true,
		GivenName:     "Test",
		FamilyName:    "UserOne",
	},
	"valid_code_2": {
		ID:            "google_user_1",
		Email:         "user1@example.com",
		VerifiedEmail: true,
		GivenName:     "Test",
		FamilyName:    "UserOne",
	},
	"another_user_code": {
		ID:            "google_user_2",
		Email:         "user2@example.com",
		VerifiedEmail: true,
		GivenName:     "Test",
		FamilyName:    "UserTwo",
	},
	"unverified_code": {
		ID:            "google_user_3",
		Email:         "unverified@example.com",
		VerifiedEmail: false,
	},
	"nameless_code": {
		ID:            "google_user_4",
		Email:         "nameless@example.com",
		VerifiedEmail: true,
	},
}

// MockOAuthServer stands in for Google's token and userinfo endpoints.
type MockOAuthServer struct {
	server *httptest.Server

	mu           sync.Mutex
	accessTokens map[string]mockUser
	lastVerifier string
}

func NewMockOAuthServer() *MockOAuthServer {
	m := &MockOAuthServer{
		accessTokens: make(map[string]mockUser),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", m.handleToken)
	mux.HandleFunc("/oauth2/v2/userinfo", m.handleUserInfo)

	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockOAuthServer) URL() string {
	return m.server.URL
}

func (m *MockOAuthServer) Close() {
	m.server.Close()
}

// LastCodeVerifier returns the code_verifier from the most recent token
// exchange, empty if none was sent.
func (m *MockOAuthServer) LastCodeVerifier() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastVerifier
}

func (m *MockOAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, _ := io.ReadAll(r.Body)
	params, _ := url.ParseQuery(string(body))

	m.mu.Lock()
	m.lastVerifier = params.Get("code_verifier")
	m.mu.Unlock()

	if params.Get("grant_type") != "authorization_code" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	code := params.Get("code")
	user, ok := mockUsers[code]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	accessToken := "access_" + code
	m.mu.Lock()
	m.accessTokens[accessToken] = user
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": accessToken,
		"expires_in":   3600,
		"token_type":   "Bearer",
	})
}

func (m *MockOAuthServer) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}

	m.mu.Lock()
	user, ok := m.accessTokens[auth[7:]]
	m.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
