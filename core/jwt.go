package core

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenType = "access"

type accessClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

func GenerateAccessToken(userID int64, config *Config) (string, error) {
	now := time.Now().UTC()

	claims := &accessClaims{
		Type: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(config.AccessTokenTTL())),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(config.JWT.Secret))
	if err != nil {
		return "", err
	}

	return signedToken, nil
}

// ValidateAccessToken checks signature, expiry, token type and subject. Any
// failure collapses to ErrInvalidToken; callers cannot tell a forged token
// from a stale one.
func ValidateAccessToken(tokenString string, config *Config) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &accessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(config.JWT.Secret), nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || claims.Type != accessTokenType {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}

	return userID, nil
}
