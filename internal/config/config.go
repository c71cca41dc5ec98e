package config

import (
	"encoding/hex"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

const EnvProduction = "production"

// Config contains server configuration parameters.
type Config struct {
	LogLevel    int    `env:"LOG_LEVEL" envDefault:"0"`
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	NATSURL     string `env:"NATS_URL"`

	Database  Database  `envPrefix:"DATABASE_"`
	JWT       JWT       `envPrefix:"JWT_"`
	Google    OAuth     `envPrefix:"GOOGLE_"`
	Microsoft Microsoft `envPrefix:"MICROSOFT_"`
	Yahoo     Yahoo     `envPrefix:"YAHOO_"`
	RateLimit RateLimit `envPrefix:"RATE_LIMIT_"`

	// TokenEncryptionKey is 64 hex characters; empty disables encryption at rest.
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`
}

// Database contains database connection parameters.
type Database struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DSN" envDefault:"data/gateway.db"`
}

// JWT contains the internal token signing secrets.
type JWT struct {
	AccessSecret  string `env:"ACCESS_SECRET"`
	RefreshSecret string `env:"REFRESH_SECRET"`
}

// OAuth contains an OAuth client registration.
type OAuth struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// Enabled reports whether the client is configured.
func (o OAuth) Enabled() bool {
	return o.ClientID != "" && o.ClientSecret != ""
}

type Microsoft struct {
	OAuth
	Tenant string `env:"TENANT" envDefault:"common"`
}

type Yahoo struct {
	OAuth
	OAuthEnabled bool   `env:"OAUTH_ENABLED" envDefault:"false"`
	IMAPAddr     string `env:"IMAP_ADDR" envDefault:"imap.mail.yahoo.com:993"`
	SMTPAddr     string `env:"SMTP_ADDR" envDefault:"smtp.mail.yahoo.com:465"`
}

type RateLimit struct {
	RPS   float64 `env:"RPS" envDefault:"5"`
	Burst int     `env:"BURST" envDefault:"10"`
}

// NewConfig loads configuration from environment variables and validates it.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports the first fatal misconfiguration.
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" {
		return &model.ConfigurationError{Setting: "JWT_ACCESS_SECRET", Message: "must be set"}
	}
	if c.JWT.RefreshSecret == "" {
		return &model.ConfigurationError{Setting: "JWT_REFRESH_SECRET", Message: "must be set"}
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return &model.ConfigurationError{Setting: "JWT_REFRESH_SECRET", Message: "must differ from JWT_ACCESS_SECRET"}
	}
	if c.TokenEncryptionKey != "" {
		key, err := hex.DecodeString(c.TokenEncryptionKey)
		if err != nil || len(key) != 32 {
			return &model.ConfigurationError{Setting: "TOKEN_ENCRYPTION_KEY", Message: "must be 64 hex characters"}
		}
	}
	if c.Yahoo.OAuthEnabled && !c.Yahoo.Enabled() {
		return &model.ConfigurationError{Setting: "YAHOO_CLIENT_ID", Message: "required when YAHOO_OAUTH_ENABLED is set"}
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return &model.ConfigurationError{Setting: "RATE_LIMIT_RPS", Message: "rate and burst must be positive"}
	}
	return nil
}

// Production reports whether the server runs in production mode.
func (c *Config) Production() bool {
	return c.AppEnv == EnvProduction
}

// EncryptionKey returns the decoded token encryption key, or nil when unset.
func (c *Config) EncryptionKey() []byte {
	if c.TokenEncryptionKey == "" {
		return nil
	}
	key, _ := hex.DecodeString(c.TokenEncryptionKey)
	return key
}
