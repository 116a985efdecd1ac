package core

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const refreshCookieName = "refresh_token"

// refreshCookiePath scopes the session cookie to the auth endpoints so it is
// not replayed on every request.
const refreshCookiePath = "/auth"

type Server struct {
	authService *AuthService
	config      *Config
}

func NewServer(authService *AuthService, config *Config) *Server {
	return &Server{
		authService: authService,
		config:      config,
	}
}

// Handler returns the full route table wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/register", s.HandleRegister)
	mux.HandleFunc("/auth/login", s.HandleLogin)
	mux.HandleFunc("/auth/refresh", s.HandleRefresh)
	mux.HandleFunc("/auth/logout", s.HandleLogout)
	mux.HandleFunc("/auth/google/exchange", s.HandleGoogleExchange)
	mux.HandleFunc("/auth/link/google", s.HandleGoogleLink)
	mux.HandleFunc("/auth/me", s.HandleMe)
	mux.HandleFunc("/health", s.HandleHealth)
	return s.WithCORS(mux)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type userResponse struct {
	ID        int64   `json:"id"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone,omitempty"`
}

func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
		Password  string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	result, err := s.authService.Register(r.Context(), RegisterRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
	}, requestMetadata(r))
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			respondError(w, http.StatusConflict, "email_taken", "Email already in use")
			return
		}
		s.respondInternalError(w, err)
		return
	}

	s.respondSession(w, result)
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	result, err := s.authService.Login(r.Context(), req.Email, req.Password, requestMetadata(r))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
			return
		}
		s.respondInternalError(w, err)
		return
	}

	s.respondSession(w, result)
}

func (s *Server) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		s.clearRefreshCookie(w)
		respondError(w, http.StatusUnauthorized, "unauthenticated", "Missing refresh token")
		return
	}

	result, err := s.authService.Refresh(r.Context(), cookie.Value, requestMetadata(r))
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			// The session is dead either way; make the client stop retrying it.
			s.clearRefreshCookie(w)
			respondError(w, http.StatusUnauthorized, "unauthenticated", "Invalid or expired refresh token")
			return
		}
		s.respondInternalError(w, err)
		return
	}

	s.respondSession(w, result)
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	presented := ""
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		presented = cookie.Value
	}

	if err := s.authService.Logout(r.Context(), presented); err != nil {
		s.respondInternalError(w, err)
		return
	}

	s.clearRefreshCookie(w)
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "logged_out",
	})
}

type federatedExchangeRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
}

func (s *Server) HandleGoogleExchange(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	var req federatedExchangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" || req.RedirectURI == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "code and redirect_uri are required")
		return
	}

	result, err := s.authService.ExchangeFederated(r.Context(), ProviderGoogle, req.Code, req.CodeVerifier, req.RedirectURI, requestMetadata(r))
	if err != nil {
		s.respondFederatedError(w, err)
		return
	}

	s.respondSession(w, result)
}

func (s *Server) HandleGoogleLink(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	user, err := s.currentUser(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "Invalid or missing authorization token")
		return
	}

	var req federatedExchangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" || req.RedirectURI == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "code and redirect_uri are required")
		return
	}

	result, err := s.authService.LinkFederated(r.Context(), user, ProviderGoogle, req.Code, req.CodeVerifier, req.RedirectURI, requestMetadata(r))
	if err != nil {
		s.respondFederatedError(w, err)
		return
	}

	s.respondSession(w, result)
}

func (s *Server) HandleMe(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) {
		return
	}

	user, err := s.currentUser(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "Invalid or missing authorization token")
		return
	}

	respondJSON(w, http.StatusOK, userResponse{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		Phone:     user.Phone,
	})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// RequireGroupRole wraps a handler, admitting only authenticated members of
// the group named by the group_id query parameter whose role is in allowed.
// An empty allowed list admits any member.
func (s *Server) RequireGroupRole(next http.HandlerFunc, allowed ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.currentUser(r)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthenticated", "Invalid or missing authorization token")
			return
		}

		groupID, err := strconv.ParseInt(r.URL.Query().Get("group_id"), 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "group_id is required")
			return
		}

		role, err := s.authService.GroupRole(r.Context(), user.ID, groupID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				respondError(w, http.StatusForbidden, "forbidden", "Not a member of this group")
				return
			}
			s.respondInternalError(w, err)
			return
		}

		if len(allowed) > 0 && !contains(allowed, role) {
			respondError(w, http.StatusForbidden, "forbidden", "Insufficient permissions")
			return
		}

		next(w, r)
	}
}

// WithCORS restricts cross-origin access to the single configured origin.
// Credentials are allowed because the refresh secret travels in a cookie.
func (s *Server) WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && origin == s.config.AllowedOrigin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper functions

func (s *Server) currentUser(r *http.Request) (*User, error) {
	token, err := extractBearerToken(r)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return s.authService.CurrentUser(r.Context(), token)
}

func (s *Server) respondSession(w http.ResponseWriter, result *AuthResult) {
	s.setRefreshCookie(w, result.RefreshSecret, result.RefreshExpiresAt)
	respondJSON(w, http.StatusOK, tokenResponse{AccessToken: result.AccessToken})
}

func (s *Server) respondFederatedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmailCollision):
		respondError(w, http.StatusConflict, "email_collision", "An account with this email already exists. Log in and link instead.")
	case errors.Is(err, ErrAlreadyLinked):
		respondError(w, http.StatusConflict, "already_linked", "Identity already linked to another account")
	case errors.Is(err, ErrUntrustedIdentity):
		respondError(w, http.StatusUnauthorized, "untrusted_identity", "Identity could not be verified")
	case errors.Is(err, ErrUserInactive):
		respondError(w, http.StatusUnauthorized, "user_inactive", "Account is disabled")
	case errors.Is(err, ErrProviderUnavailable):
		respondError(w, http.StatusBadGateway, "provider_unavailable", "Identity provider is unavailable")
	case errors.Is(err, ErrUnsupportedProvider):
		respondError(w, http.StatusBadRequest, "invalid_provider", "Unsupported provider")
	default:
		s.respondInternalError(w, err)
	}
}

func (s *Server) respondInternalError(w http.ResponseWriter, err error) {
	correlationID := uuid.NewString()
	log.Printf("internal error [%s]: %v", correlationID, err)
	respondJSON(w, http.StatusInternalServerError, map[string]string{
		"error":          "internal_error",
		"message":        "Unexpected failure",
		"correlation_id": correlationID,
	})
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, secret string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    secret,
		Path:     refreshCookiePath,
		Domain:   s.config.Cookie.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		Domain:   s.config.Cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func requestMetadata(r *http.Request) RequestMetadata {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return RequestMetadata{
		UserAgent: r.UserAgent(),
		IPAddress: ip,
	}
}

func validateMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrUnauthenticated
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", ErrUnauthenticated
	}

	return parts[1], nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
