package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Redis       RedisConfig       `json:"redis"`
	Security    SecurityConfig    `json:"security"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`
	Claims      ClaimsConfig      `json:"claims"`
	Idempotency IdempotencyConfig `json:"idempotency"`
	Tracing     TracingConfig     `json:"tracing"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port      string `json:"port"`
	Host      string `json:"host"`
	EnableTLS bool   `json:"enable_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// RedisConfig holds the optional Redis connection used for the deal cache
// and the shared rate-limit counters.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration. Backend "redis" shares
// counters across instances; "memory" is per-process best effort.
type RateLimitConfig struct {
	Enabled bool   `json:"enabled"`
	Rate    int    `json:"rate"`
	Window  int    `json:"window"` // in seconds
	Backend string `json:"backend"`
}

// ClaimsConfig controls voucher issuance.
type ClaimsConfig struct {
	// WindowMinutes bounds how long a claimed voucher stays redeemable.
	WindowMinutes int `json:"window_minutes"`
}

// IdempotencyConfig controls the redemption idempotency-key store.
type IdempotencyConfig struct {
	TTLHours       int `json:"ttl_hours"`
	CleanupMinutes int `json:"cleanup_minutes"`
}

// TracingConfig holds OpenTelemetry/Jaeger settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	Environment string `json:"environment"`
}

// LoadConfig loads configuration from environment variables and/or config file.
// Environment variables take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:      "8080",
			Host:      "",
			EnableTLS: false,
		},
		Database: DatabaseConfig{
			Path: "./happy_hour.db",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 1 << 20,
			AllowedOrigins:     "*",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Window:  60,
			Backend: "memory",
		},
		Claims: ClaimsConfig{
			WindowMinutes: 24 * 60,
		},
		Idempotency: IdempotencyConfig{
			TTLHours:       24,
			CleanupMinutes: 10,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "http://localhost:14268/api/traces",
			Environment: "development",
		},
	}

	// Load from config file if provided
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (they take precedence)
	overrideFromEnv(cfg)

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.Host, "SERVER_HOST")
	setBool(&cfg.Server.EnableTLS, "SERVER_ENABLE_TLS")
	setString(&cfg.Server.CertFile, "SERVER_CERT_FILE")
	setString(&cfg.Server.KeyFile, "SERVER_KEY_FILE")
	setString(&cfg.Database.Path, "DATABASE_PATH")
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt64(&cfg.Security.MaxRequestBodySize, "MAX_REQUEST_BODY_SIZE")
	setString(&cfg.Security.AllowedOrigins, "ALLOWED_ORIGINS")
	setBool(&cfg.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setInt(&cfg.RateLimit.Rate, "RATE_LIMIT_RATE")
	setInt(&cfg.RateLimit.Window, "RATE_LIMIT_WINDOW")
	setString(&cfg.RateLimit.Backend, "RATE_LIMIT_BACKEND")
	setInt(&cfg.Claims.WindowMinutes, "CLAIM_WINDOW_MINUTES")
	setInt(&cfg.Idempotency.TTLHours, "IDEMPOTENCY_TTL_HOURS")
	setInt(&cfg.Idempotency.CleanupMinutes, "IDEMPOTENCY_CLEANUP_MINUTES")
	setBool(&cfg.Tracing.Enabled, "TRACING_ENABLED")
	setString(&cfg.Tracing.Endpoint, "TRACING_ENDPOINT")
	setString(&cfg.Tracing.Environment, "TRACING_ENVIRONMENT")
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = strings.ToLower(value) == "true" || value == "1"
	}
}

func setInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			*dst = i
		}
	}
}

func setInt64(dst *int64, key string) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			*dst = i
		}
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
		if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
			return fmt.Errorf("rate limit backend must be 'memory' or 'redis'")
		}
		if c.RateLimit.Backend == "redis" && !c.Redis.Enabled {
			return fmt.Errorf("redis rate limit backend requires redis to be enabled")
		}
	}
	if c.Claims.WindowMinutes < 15 {
		return fmt.Errorf("claim window must be at least 15 minutes")
	}
	if c.Idempotency.TTLHours <= 0 {
		return fmt.Errorf("idempotency TTL must be positive")
	}
	return nil
}
