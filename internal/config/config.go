// Package config provides configuration management for the edge router.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration to ensure the process starts
// safely; validation errors are the only fatal errors in the router.
//
// Environment Variables:
//
// Entrypoints:
//   - ENTRYPOINT_WEB_ADDR: plaintext listener address (default: :80)
//   - ENTRYPOINT_WEBSECURE_ADDR: TLS listener address (empty disables it)
//   - TLS_CERT_FILE / TLS_KEY_FILE: certificate pair for the TLS listener
//   - ADMIN_ADDR: admin API listener address (default: :8080)
//
// Routing:
//   - PROVIDER: discovery provider - "static", "file" or "redis"
//     (default: file). The static provider reads ROUTES_FILE once at
//     startup and never watches it.
//   - ROUTES_FILE: YAML definitions file path (default: ./routes.yml)
//   - BALANCER_STRATEGY: "round_robin" or "least_connections"
//     (default: round_robin)
//
// Redis provider:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//
// Health checking:
//   - HEALTH_INTERVAL: time between probe cycles (default: 30s)
//   - HEALTH_TIMEOUT: per-probe timeout (default: 5s)
//   - HEALTH_PATH: probe path (default: /)
//   - HEALTH_FAILURE_THRESHOLD: consecutive failures before an instance
//     is marked unhealthy (default: 3)
//
// Dispatching:
//   - RETRY_BUFFER_LIMIT: largest request body, in bytes, buffered for a
//     failover retry; larger bodies are streamed without retry
//     eligibility (default: 1048576)
//
// Lifecycle:
//   - IDLE_TIMEOUT: per-stream idle timeout on active forwards and
//     inbound connections (default: 120s)
//   - DRAIN_GRACE_PERIOD: shutdown drain deadline (default: 30s)
//   - LOG_LEVEL: logging level (default: info)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	apperrors "edge-router/internal/common/errors"
)

// Provider names accepted in PROVIDER.
const (
	ProviderStatic = "static"
	ProviderFile   = "file"
	ProviderRedis  = "redis"
)

// Config holds all configuration values for the edge router.
type Config struct {
	// Entrypoints
	WebAddr       string // plaintext listener address
	WebSecureAddr string // TLS listener address, empty disables
	TLSCertFile   string // certificate for the TLS listener
	TLSKeyFile    string // private key for the TLS listener
	AdminAddr     string // admin API address

	// Routing
	Provider         string // discovery provider: file or redis
	RoutesFile       string // YAML definitions file for the file provider
	BalancerStrategy string // round_robin or least_connections

	// Redis provider
	RedisAddress  string
	RedisPassword string
	RedisDB       int

	// Dispatching
	RetryBufferLimit int // max request body bytes buffered for failover retry

	// Health checking
	HealthInterval         time.Duration
	HealthTimeout          time.Duration
	HealthPath             string
	HealthFailureThreshold int

	// Lifecycle
	IdleTimeout      time.Duration
	DrainGracePeriod time.Duration
	LogLevel         string
}

// Load creates a new Config instance with values loaded from environment
// variables. It does not validate the configuration - call Validate() on
// the returned Config before use.
func Load() *Config {
	return &Config{
		WebAddr:       getEnv("ENTRYPOINT_WEB_ADDR", ":80"),
		WebSecureAddr: getEnv("ENTRYPOINT_WEBSECURE_ADDR", ""),
		TLSCertFile:   getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:    getEnv("TLS_KEY_FILE", ""),
		AdminAddr:     getEnv("ADMIN_ADDR", ":8080"),

		Provider:         getEnv("PROVIDER", ProviderFile),
		RoutesFile:       getEnv("ROUTES_FILE", "./routes.yml"),
		BalancerStrategy: getEnv("BALANCER_STRATEGY", "round_robin"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RetryBufferLimit: getEnvInt("RETRY_BUFFER_LIMIT", 1<<20),

		HealthInterval:         getEnvDuration("HEALTH_INTERVAL", 30*time.Second),
		HealthTimeout:          getEnvDuration("HEALTH_TIMEOUT", 5*time.Second),
		HealthPath:             getEnv("HEALTH_PATH", "/"),
		HealthFailureThreshold: getEnvInt("HEALTH_FAILURE_THRESHOLD", 3),

		IdleTimeout:      getEnvDuration("IDLE_TIMEOUT", 120*time.Second),
		DrainGracePeriod: getEnvDuration("DRAIN_GRACE_PERIOD", 30*time.Second),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
}

// Validate ensures the configuration can start the router. It returns the
// first problem found; any error here is fatal at startup.
func (c *Config) Validate() error {
	if c.WebAddr == "" && c.WebSecureAddr == "" {
		return apperrors.ConfigError("at least one entrypoint address is required")
	}

	if c.WebSecureAddr != "" {
		if c.TLSCertFile == "" || c.TLSKeyFile == "" {
			return apperrors.ConfigError("TLS_CERT_FILE and TLS_KEY_FILE are required for the websecure entrypoint")
		}
	}

	switch c.Provider {
	case ProviderStatic, ProviderFile:
		if c.RoutesFile == "" {
			return apperrors.ConfigError(fmt.Sprintf("ROUTES_FILE is required for the %s provider", c.Provider))
		}
	case ProviderRedis:
		if c.RedisAddress == "" {
			return apperrors.ConfigError("REDIS_ADDRESS is required for the redis provider")
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return apperrors.ConfigError(fmt.Sprintf("REDIS_DB must be between 0 and 15, got %d", c.RedisDB))
		}
	default:
		return apperrors.ConfigError(fmt.Sprintf("unknown provider %q (expected %q, %q or %q)", c.Provider, ProviderStatic, ProviderFile, ProviderRedis))
	}

	switch c.BalancerStrategy {
	case "round_robin", "least_connections":
	default:
		return apperrors.ConfigError(fmt.Sprintf("unknown balancer strategy %q", c.BalancerStrategy))
	}

	if c.HealthInterval <= 0 {
		return apperrors.ConfigError(fmt.Sprintf("HEALTH_INTERVAL must be positive, got %v", c.HealthInterval))
	}
	if c.HealthTimeout <= 0 {
		return apperrors.ConfigError(fmt.Sprintf("HEALTH_TIMEOUT must be positive, got %v", c.HealthTimeout))
	}
	if c.HealthFailureThreshold <= 0 {
		return apperrors.ConfigError(fmt.Sprintf("HEALTH_FAILURE_THRESHOLD must be positive, got %d", c.HealthFailureThreshold))
	}
	if c.DrainGracePeriod <= 0 {
		return apperrors.ConfigError(fmt.Sprintf("DRAIN_GRACE_PERIOD must be positive, got %v", c.DrainGracePeriod))
	}
	if c.RetryBufferLimit <= 0 {
		return apperrors.ConfigError(fmt.Sprintf("RETRY_BUFFER_LIMIT must be positive, got %d", c.RetryBufferLimit))
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
