package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

func setSecrets(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "access-secret")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-secret")
}

func TestNewConfig_DefaultValues(t *testing.T) {
	setSecrets(t)

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.LogLevel)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.False(t, cfg.Production())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "http://localhost:3000", cfg.FrontendURL)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/gateway.db", cfg.Database.DSN)
	assert.Equal(t, "common", cfg.Microsoft.Tenant)
	assert.Equal(t, "imap.mail.yahoo.com:993", cfg.Yahoo.IMAPAddr)
	assert.Equal(t, "smtp.mail.yahoo.com:465", cfg.Yahoo.SMTPAddr)
	assert.False(t, cfg.Yahoo.OAuthEnabled)
	assert.Equal(t, 5.0, cfg.RateLimit.RPS)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Nil(t, cfg.EncryptionKey())
}

func TestNewConfig_EnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected func(*Config)
	}{
		{
			name:    "production",
			envVars: map[string]string{"APP_ENV": "production"},
			expected: func(cfg *Config) {
				assert.True(t, cfg.Production())
			},
		},
		{
			name: "google client",
			envVars: map[string]string{
				"GOOGLE_CLIENT_ID":     "gid",
				"GOOGLE_CLIENT_SECRET": "gsecret",
				"GOOGLE_REDIRECT_URL":  "http://localhost:8080/google/callback",
			},
			expected: func(cfg *Config) {
				assert.True(t, cfg.Google.Enabled())
				assert.Equal(t, "http://localhost:8080/google/callback", cfg.Google.RedirectURL)
			},
		},
		{
			name: "microsoft tenant",
			envVars: map[string]string{
				"MICROSOFT_CLIENT_ID": "mid",
				"MICROSOFT_TENANT":    "contoso",
			},
			expected: func(cfg *Config) {
				assert.Equal(t, "mid", cfg.Microsoft.ClientID)
				assert.Equal(t, "contoso", cfg.Microsoft.Tenant)
				assert.False(t, cfg.Microsoft.Enabled())
			},
		},
		{
			name:    "encryption key",
			envVars: map[string]string{"TOKEN_ENCRYPTION_KEY": strings.Repeat("ab", 32)},
			expected: func(cfg *Config) {
				assert.Len(t, cfg.EncryptionKey(), 32)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setSecrets(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := NewConfig()
			require.NoError(t, err)
			tt.expected(cfg)
		})
	}
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		setting string
	}{
		{
			name:    "missing access secret",
			envVars: map[string]string{"JWT_REFRESH_SECRET": "r"},
			setting: "JWT_ACCESS_SECRET",
		},
		{
			name:    "missing refresh secret",
			envVars: map[string]string{"JWT_ACCESS_SECRET": "a"},
			setting: "JWT_REFRESH_SECRET",
		},
		{
			name:    "shared secret",
			envVars: map[string]string{"JWT_ACCESS_SECRET": "same", "JWT_REFRESH_SECRET": "same"},
			setting: "JWT_REFRESH_SECRET",
		},
		{
			name: "short encryption key",
			envVars: map[string]string{
				"JWT_ACCESS_SECRET":    "a",
				"JWT_REFRESH_SECRET":   "r",
				"TOKEN_ENCRYPTION_KEY": "abcd",
			},
			setting: "TOKEN_ENCRYPTION_KEY",
		},
		{
			name: "yahoo oauth without client",
			envVars: map[string]string{
				"JWT_ACCESS_SECRET":   "a",
				"JWT_REFRESH_SECRET":  "r",
				"YAHOO_OAUTH_ENABLED": "true",
			},
			setting: "YAHOO_CLIENT_ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_ACCESS_SECRET", "")
			t.Setenv("JWT_REFRESH_SECRET", "")
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			_, err := NewConfig()
			var cfgErr *model.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.setting, cfgErr.Setting)
		})
	}
}
