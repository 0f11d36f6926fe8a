package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                 "8080",
		Env:                  "development",
		DBDriver:             "postgres",
		DBSSLMode:            "disable",
		JWTSecret:            "secure-secret-at-least-32-chars-long",
		JWTIssuer:            "devpress-api",
		JWTAudience:          "devpress-client",
		SessionTTL:           24 * time.Hour,
		SessionCookie:        "devpress_sid",
		ImageMaxUploadSizeMB: 5,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"valid development config", func(_ *Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"missing audience", func(c *Config) { c.JWTAudience = "" }, true},
		{"zero session ttl", func(c *Config) { c.SessionTTL = 0 }, true},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"sqlite driver", func(c *Config) { c.DBDriver = "sqlite" }, false},
		{"production with default secret", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = defaultJWTSecret
		}, true},
		{"production with ssl disabled", func(c *Config) {
			c.Env = "production"
			c.CookieSecure = true
		}, true},
		{"production without secure cookie", func(c *Config) {
			c.Env = "production"
			c.DBSSLMode = "require"
		}, true},
		{"hardened production", func(c *Config) {
			c.Env = "prod"
			c.DBSSLMode = "verify-full"
			c.CookieSecure = true
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("PORT", "9999")
	t.Setenv("DB_DRIVER", "  SQLITE ")
	t.Setenv("SESSION_TTL", "2h")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "devpress_sid", cfg.SessionCookie)
	assert.Equal(t, "devpress-api", cfg.JWTIssuer)
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.False(t, cfg.GoogleEnabled())
	assert.False(t, cfg.FacebookEnabled())
}

func TestPostgresDSN(t *testing.T) {
	c := validConfig()
	c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName = "db", "5433", "u", "p", "blog"
	c.DBSSLMode = ""

	assert.Equal(t, "host=db port=5433 user=u password=p dbname=blog sslmode=disable", c.PostgresDSN())
}
