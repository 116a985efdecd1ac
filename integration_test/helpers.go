package integration_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"time"

	_ "modernc.org/sqlite"
)

type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type UserResponse struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

// newClient returns an HTTP client with its own cookie jar, simulating one
// browser session.
func newClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Jar:     jar,
		Timeout: 5 * time.Second,
	}
}

func postJSON(client *http.Client, url string, body interface{}) (*http.Response, error) {
	jsonBody, _ := json.Marshal(body)
	return client.Post(url, "application/json", bytes.NewReader(jsonBody))
}

func postJSONAuth(client *http.Client, url, accessToken string, body interface{}) (*http.Response, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return client.Do(req)
}

func register(client *http.Client, baseURL, email, password string) (*http.Response, error) {
	return postJSON(client, baseURL+"/auth/register", map[string]string{
		"first_name": "Integration",
		"last_name":  "Test",
		"email":      email,
		"password":   password,
	})
}

func login(client *http.Client, baseURL, email, password string) (*http.Response, error) {
	return postJSON(client, baseURL+"/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

func refresh(client *http.Client, baseURL string) (*http.Response, error) {
	return postJSON(client, baseURL+"/auth/refresh", map[string]string{})
}

func logout(client *http.Client, baseURL string) (*http.Response, error) {
	return postJSON(client, baseURL+"/auth/logout", map[string]string{})
}

func exchangeGoogle(client *http.Client, baseURL, code, codeVerifier string) (*http.Response, error) {
	return postJSON(client, baseURL+"/auth/google/exchange", map[string]string{
		"code":          code,
		"code_verifier": codeVerifier,
		"redirect_uri":  "http://localhost:3000/callback",
	})
}

func linkGoogle(client *http.Client, baseURL, accessToken, code string) (*http.Response, error) {
	return postJSONAuth(client, baseURL+"/auth/link/google", accessToken, map[string]string{
		"code":         code,
		"redirect_uri": "http://localhost:3000/callback",
	})
}

func getMe(client *http.Client, baseURL, accessToken string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/auth/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return client.Do(req)
}

// refreshWithCookie presents an explicit refresh cookie, bypassing any jar.
// Used to replay a consumed secret.
func refreshWithCookie(baseURL string, cookie *http.Cookie) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/auth/refresh", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}

func findRefreshCookie(resp *http.Response) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "refresh_token" {
			return cookie
		}
	}
	return nil
}

func parseTokenResponse(resp *http.Response) (*TokenResponse, error) {
	var result TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func parseErrorResponse(resp *http.Response) (*ErrorResponse, error) {
	var result ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func parseUserResponse(resp *http.Response) (*UserResponse, error) {
	var result UserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func countRows(dbPath, table string) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count)
	return count, err
}

func countUsers(dbPath string) (int, error) {
	return countRows(dbPath, "users")
}

func countIdentities(dbPath string) (int, error) {
	return countRows(dbPath, "auth_identities")
}

func countSessions(dbPath string) (int, error) {
	return countRows(dbPath, "refresh_tokens")
}

func countActiveSessions(dbPath string) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM refresh_tokens WHERE revoked_at IS NULL").Scan(&count)
	return count, err
}

func userNames(dbPath, email string) (first, last string, err error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return "", "", err
	}
	defer db.Close()

	err = db.QueryRow("SELECT first_name, last_name FROM users WHERE email = ?", email).Scan(&first, &last)
	return first, last, err
}

func cleanDatabase(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, table := range []string{"refresh_tokens", "group_memberships", "auth_identities", "password_credentials", "users"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}
	return nil
}
