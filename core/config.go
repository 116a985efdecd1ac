package core

import "time"

const (
	defaultAccessTokenMinutes = 15
	defaultRefreshTokenDays   = 30
	defaultBcryptCost         = 12
)

type Config struct {
	JWT           JWTConfig    `yaml:"jwt"`
	Crypto        CryptoConfig `yaml:"crypto"`
	Cookie        CookieConfig `yaml:"cookie"`
	AllowedOrigin string       `yaml:"allowed_origin"`
}

type JWTConfig struct {
	Secret             string `yaml:"secret"`              // secret key for signing access tokens and hashing refresh secrets
	AccessTokenMinutes int    `yaml:"access_token_minutes"`
	RefreshTokenDays   int    `yaml:"refresh_token_days"`
}

type CryptoConfig struct {
	BcryptCost int `yaml:"bcrypt_cost"`
}

type CookieConfig struct {
	Secure bool   `yaml:"secure"`
	Domain string `yaml:"domain"`
}

func (c *Config) AccessTokenTTL() time.Duration {
	minutes := c.JWT.AccessTokenMinutes
	if minutes <= 0 {
		minutes = defaultAccessTokenMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func (c *Config) RefreshTokenTTL() time.Duration {
	days := c.JWT.RefreshTokenDays
	if days <= 0 {
		days = defaultRefreshTokenDays
	}
	return time.Duration(days) * 24 * time.Hour
}
