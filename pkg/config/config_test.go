package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "FINOLY_TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "FINOLY_TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvTypedHelpers(t *testing.T) {
	t.Setenv("FINOLY_TEST_BOOL", "1")
	t.Setenv("FINOLY_TEST_INT", "42")
	t.Setenv("FINOLY_TEST_BAD_INT", "forty-two")
	t.Setenv("FINOLY_TEST_DURATION", "90s")
	t.Setenv("FINOLY_TEST_FLOAT", "0.25")

	assert.True(t, getEnvBool("FINOLY_TEST_BOOL", false))
	assert.Equal(t, 42, getEnvInt("FINOLY_TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("FINOLY_TEST_BAD_INT", 7))
	assert.Equal(t, int64(42), getEnvInt64("FINOLY_TEST_INT", 0))
	assert.Equal(t, 90*time.Second, getEnvDuration("FINOLY_TEST_DURATION", time.Second))
	assert.Equal(t, 0.25, getEnvFloat("FINOLY_TEST_FLOAT", 1))
	assert.Equal(t, 0.5, getEnvFloat("FINOLY_TEST_BAD_INT", 0.5))
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("FINOLY_STORAGE_TYPE", StorageMemory)
	t.Setenv("FINOLY_JWT_SECRET", testSecret)
	t.Setenv("FINOLY_PORT", "8181")
	t.Setenv("FINOLY_RATE_LIMIT_WRITES", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, StorageMemory, cfg.Storage.Type)
	assert.Equal(t, 3, cfg.RateLimit.WritePerWindow)
	assert.Equal(t, 50, cfg.RateLimit.ReadPerWindow)
	assert.Equal(t, "session_token", cfg.Auth.CookieName)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finoly.yaml")
	content := `
server:
  port: "7070"
  read_timeout: 5s
storage:
  type: postgres
  postgres_url: postgres://localhost/finoly
auth:
  jwt_secret: ` + testSecret + `
rate_limit:
  backend: redis
observability:
  log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("FINOLY_CONFIG_FILE", path)
	t.Setenv("FINOLY_PORT", "7171")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "7171", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "postgres://localhost/finoly", cfg.Storage.PostgresURL)
	assert.Equal(t, LimiterRedis, cfg.RateLimit.Backend)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("FINOLY_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Storage.Type = StorageMemory
		cfg.Auth.JWTSecret = testSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"same ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }, "must be different"},
		{"postgres without url", func(c *Config) { c.Storage.Type = StoragePostgres }, "postgres URL"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "sqlite" }, "invalid storage type"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT secret is required"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "at least 32"},
		{"unknown limiter", func(c *Config) { c.RateLimit.Backend = "memcached" }, "invalid rate limit backend"},
		{"zero limit", func(c *Config) { c.RateLimit.WritePerWindow = 0 }, "must be positive"},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "chatty" }, "invalid log level"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, "endpoint is required"},
		{"otel sample ratio above one", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelSampleRatio = 1.5
		}, "sample ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Observability.LogLevel = "warn"
	cfg.Observability.LogFormat = "text"

	logger := cfg.NewLogger()

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	_, isText := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}
