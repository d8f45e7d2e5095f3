package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Rate limiter backends
const (
	LimiterMemory = "memory"
	LimiterRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Type            string        `yaml:"type"`
	PostgresURL     string        `yaml:"postgres_url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	RunMigrations   bool          `yaml:"run_migrations"`
}

// RedisConfig holds the Redis connection used by the distributed limiter
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds session credential verification settings
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	CookieName string        `yaml:"cookie_name"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
}

// RateLimitConfig configures the business settings limiter
type RateLimitConfig struct {
	Backend        string        `yaml:"backend"`
	ReadPerWindow  int           `yaml:"read_per_window"`
	WritePerWindow int           `yaml:"write_per_window"`
	Window         time.Duration `yaml:"window"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelEnvironment    string  `yaml:"otel_environment"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			HealthPort:      "9090",
		},
		Storage: StorageConfig{
			Type:            StoragePostgres,
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Auth: AuthConfig{
			CookieName: "session_token",
			TokenTTL:   7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Backend:        LimiterMemory,
			ReadPerWindow:  50,
			WritePerWindow: 10,
			Window:         time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "finoly-api",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelEnvironment:    "development",
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration from an optional YAML file named by
// FINOLY_CONFIG_FILE, then applies environment variable overrides
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("FINOLY_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("FINOLY_HOST", c.Server.Host)
	c.Server.Port = getEnv("FINOLY_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("FINOLY_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("FINOLY_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("FINOLY_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("FINOLY_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxBodyBytes = getEnvInt64("FINOLY_MAX_BODY_BYTES", c.Server.MaxBodyBytes)
	c.Server.HealthPort = getEnv("FINOLY_HEALTH_PORT", c.Server.HealthPort)

	c.Storage.Type = getEnv("FINOLY_STORAGE_TYPE", c.Storage.Type)
	c.Storage.PostgresURL = getEnv("FINOLY_POSTGRES_URL", c.Storage.PostgresURL)
	c.Storage.MaxOpenConns = getEnvInt("FINOLY_POSTGRES_MAX_OPEN_CONNS", c.Storage.MaxOpenConns)
	c.Storage.MaxIdleConns = getEnvInt("FINOLY_POSTGRES_MAX_IDLE_CONNS", c.Storage.MaxIdleConns)
	c.Storage.ConnMaxLifetime = getEnvDuration("FINOLY_POSTGRES_CONN_MAX_LIFETIME", c.Storage.ConnMaxLifetime)
	c.Storage.RunMigrations = getEnvBool("FINOLY_RUN_MIGRATIONS", c.Storage.RunMigrations)

	c.Redis.Addr = getEnv("FINOLY_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("FINOLY_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("FINOLY_REDIS_DB", c.Redis.DB)

	c.Auth.JWTSecret = getEnv("FINOLY_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.CookieName = getEnv("FINOLY_SESSION_COOKIE", c.Auth.CookieName)
	c.Auth.TokenTTL = getEnvDuration("FINOLY_TOKEN_TTL", c.Auth.TokenTTL)

	c.RateLimit.Backend = getEnv("FINOLY_RATE_LIMIT_BACKEND", c.RateLimit.Backend)
	c.RateLimit.ReadPerWindow = getEnvInt("FINOLY_RATE_LIMIT_READS", c.RateLimit.ReadPerWindow)
	c.RateLimit.WritePerWindow = getEnvInt("FINOLY_RATE_LIMIT_WRITES", c.RateLimit.WritePerWindow)
	c.RateLimit.Window = getEnvDuration("FINOLY_RATE_LIMIT_WINDOW", c.RateLimit.Window)

	c.Observability.LogLevel = getEnv("FINOLY_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("FINOLY_LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsEnabled = getEnvBool("FINOLY_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("FINOLY_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("FINOLY_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("FINOLY_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("FINOLY_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("FINOLY_OTEL_INSECURE", c.Observability.OTelInsecure)
	c.Observability.OTelEnvironment = getEnv("FINOLY_OTEL_ENVIRONMENT", c.Observability.OTelEnvironment)
	c.Observability.OTelSampleRatio = getEnvFloat("FINOLY_OTEL_SAMPLE_RATIO", c.Observability.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Type {
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres or memory)", c.Storage.Type)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}

	switch c.RateLimit.Backend {
	case LimiterMemory:
	case LimiterRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for redis rate limiting")
		}
	default:
		return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
	}
	if c.RateLimit.ReadPerWindow <= 0 || c.RateLimit.WritePerWindow <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// NewLogger builds the process logger from observability settings
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.Observability.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if strings.ToLower(c.Observability.LogFormat) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
