package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "edge-router/internal/common/errors"
)

func validConfig() *Config {
	return &Config{
		WebAddr:                ":80",
		AdminAddr:              ":8080",
		Provider:               ProviderFile,
		RoutesFile:             "./routes.yml",
		BalancerStrategy:       "round_robin",
		RedisAddress:           "localhost:6379",
		RetryBufferLimit:       1 << 20,
		HealthInterval:         30 * time.Second,
		HealthTimeout:          5 * time.Second,
		HealthPath:             "/",
		HealthFailureThreshold: 3,
		IdleTimeout:            120 * time.Second,
		DrainGracePeriod:       30 * time.Second,
		LogLevel:               "info",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":80", cfg.WebAddr)
	assert.Empty(t, cfg.WebSecureAddr)
	assert.Equal(t, ":8080", cfg.AdminAddr)
	assert.Equal(t, ProviderFile, cfg.Provider)
	assert.Equal(t, "./routes.yml", cfg.RoutesFile)
	assert.Equal(t, "round_robin", cfg.BalancerStrategy)
	assert.Equal(t, "localhost:6379", cfg.RedisAddress)
	assert.Equal(t, 1<<20, cfg.RetryBufferLimit)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 30*time.Second, cfg.HealthInterval)
	assert.Equal(t, 5*time.Second, cfg.HealthTimeout)
	assert.Equal(t, "/", cfg.HealthPath)
	assert.Equal(t, 3, cfg.HealthFailureThreshold)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.DrainGracePeriod)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENTRYPOINT_WEB_ADDR", ":8000")
	t.Setenv("ENTRYPOINT_WEBSECURE_ADDR", ":8443")
	t.Setenv("PROVIDER", "redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("HEALTH_INTERVAL", "10s")
	t.Setenv("BALANCER_STRATEGY", "least_connections")

	cfg := Load()

	assert.Equal(t, ":8000", cfg.WebAddr)
	assert.Equal(t, ":8443", cfg.WebSecureAddr)
	assert.Equal(t, ProviderRedis, cfg.Provider)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 10*time.Second, cfg.HealthInterval)
	assert.Equal(t, "least_connections", cfg.BalancerStrategy)
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("HEALTH_INTERVAL", "whenever")

	cfg := Load()

	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 30*time.Second, cfg.HealthInterval)
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		require.NoError(t, Load().Validate())
	})

	tests := []struct {
		name     string
		mutate   func(*Config)
		contains string
	}{
		{
			name: "no entrypoint",
			mutate: func(c *Config) {
				c.WebAddr = ""
				c.WebSecureAddr = ""
			},
			contains: "entrypoint",
		},
		{
			name: "websecure without certificate",
			mutate: func(c *Config) {
				c.WebSecureAddr = ":443"
			},
			contains: "TLS_CERT_FILE",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Provider = "consul"
			},
			contains: "unknown provider",
		},
		{
			name: "file provider without routes file",
			mutate: func(c *Config) {
				c.RoutesFile = ""
			},
			contains: "ROUTES_FILE",
		},
		{
			name: "static provider without routes file",
			mutate: func(c *Config) {
				c.Provider = ProviderStatic
				c.RoutesFile = ""
			},
			contains: "ROUTES_FILE",
		},
		{
			name: "redis provider without address",
			mutate: func(c *Config) {
				c.Provider = ProviderRedis
				c.RedisAddress = ""
			},
			contains: "REDIS_ADDRESS",
		},
		{
			name: "redis db out of range",
			mutate: func(c *Config) {
				c.Provider = ProviderRedis
				c.RedisDB = 16
			},
			contains: "REDIS_DB",
		},
		{
			name: "unknown balancer strategy",
			mutate: func(c *Config) {
				c.BalancerStrategy = "random"
			},
			contains: "balancer strategy",
		},
		{
			name: "non-positive health interval",
			mutate: func(c *Config) {
				c.HealthInterval = 0
			},
			contains: "HEALTH_INTERVAL",
		},
		{
			name: "non-positive failure threshold",
			mutate: func(c *Config) {
				c.HealthFailureThreshold = 0
			},
			contains: "HEALTH_FAILURE_THRESHOLD",
		},
		{
			name: "non-positive drain grace period",
			mutate: func(c *Config) {
				c.DrainGracePeriod = -time.Second
			},
			contains: "DRAIN_GRACE_PERIOD",
		},
		{
			name: "non-positive retry buffer limit",
			mutate: func(c *Config) {
				c.RetryBufferLimit = 0
			},
			contains: "RETRY_BUFFER_LIMIT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
		})
	}

	t.Run("websecure with certificate pair", func(t *testing.T) {
		cfg := validConfig()
		cfg.WebSecureAddr = ":443"
		cfg.TLSCertFile = "/etc/tls/cert.pem"
		cfg.TLSKeyFile = "/etc/tls/key.pem"
		assert.NoError(t, cfg.Validate())
	})
}
