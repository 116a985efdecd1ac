package core

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrWeakSecret = errors.New("signing secret must be at least 32 bytes")

const refreshSecretBytes = 48

// CryptoService owns the two credential hashing mechanisms: salted bcrypt for
// passwords and a deterministic keyed digest for refresh secrets. The latter
// must stay deterministic because rows are looked up by hash equality.
type CryptoService struct {
	secret     []byte
	bcryptCost int
}

func NewCryptoService(secret string, bcryptCost int) (*CryptoService, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	if bcryptCost <= 0 {
		bcryptCost = defaultBcryptCost
	}
	return &CryptoService{
		secret:     []byte(secret),
		bcryptCost: bcryptCost,
	}, nil
}

func (cs *CryptoService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cs.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash. A malformed hash is
// treated as a mismatch, never an error.
func (cs *CryptoService) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateRefreshSecret returns a fresh opaque session secret: 48 random
// bytes, URL-safe base64 without padding.
func (cs *CryptoService) GenerateRefreshSecret() (string, error) {
	raw := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate refresh secret: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw), nil
}

// HashRefreshSecret computes the HMAC-SHA256 digest of a refresh secret keyed
// by the server secret. Keying the digest means a storage dump alone does not
// yield usable session tokens.
func (cs *CryptoService) HashRefreshSecret(secret string) string {
	mac := hmac.New(sha256.New, cs.secret)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}
