package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/campushq/permit/pkg/cache"
	"github.com/campushq/permit/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Store configuration
	Store StoreConfig

	// Events configuration
	Events EventsConfig

	// Cache configuration
	Cache cache.Config

	// Gate configuration
	Gate GateConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StoreConfig holds authorization store configuration. An empty PostgresURL
// selects the in-memory store, which is only suitable for development.
type StoreConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	SeedBuiltInRoles bool
}

// EventsConfig holds change notifier configuration. An empty RedisURL falls
// back to the in-process bus, which only reaches subscribers in the same
// process.
type EventsConfig struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
	Channel       string
}

// GateConfig holds authorization gate configuration
type GateConfig struct {
	// FailOpen lets requests through when authorization data is
	// unavailable. Keep false outside of break-glass situations.
	FailOpen bool

	// PolicyFile is an optional YAML policy table loaded at startup and
	// reloaded on change
	PolicyFile string

	// PrincipalHeader carries the verified user ID set by the fronting
	// proxy
	PrincipalHeader string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Events:        loadEventsConfig(),
		Cache:         loadCacheConfig(),
		Gate:          loadGateConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PERMIT_HOST", "0.0.0.0"),
		Port:            getEnv("PERMIT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PERMIT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PERMIT_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PERMIT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PERMIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PERMIT_HEALTH_PORT", "9090"),
	}
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		PostgresURL:      getEnv("PERMIT_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("PERMIT_POSTGRES_MAX_CONNS", 10),
		SeedBuiltInRoles: getEnvBool("PERMIT_SEED_BUILTIN_ROLES", true),
	}
}

func loadEventsConfig() EventsConfig {
	return EventsConfig{
		RedisURL:      getEnv("PERMIT_REDIS_URL", ""),
		RedisPassword: getEnv("PERMIT_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("PERMIT_REDIS_DB", 0),
		Channel:       getEnv("PERMIT_EVENTS_CHANNEL", ""),
	}
}

func loadCacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.FreshTTL = getEnvDuration("PERMIT_CACHE_FRESH_TTL", cfg.FreshTTL)
	cfg.StaleGrace = getEnvDuration("PERMIT_CACHE_STALE_GRACE", cfg.StaleGrace)
	cfg.FetchTimeout = getEnvDuration("PERMIT_CACHE_FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.BackoffBase = getEnvDuration("PERMIT_CACHE_BACKOFF_BASE", cfg.BackoffBase)
	cfg.BackoffMax = getEnvDuration("PERMIT_CACHE_BACKOFF_MAX", cfg.BackoffMax)
	cfg.MaxUserEntries = getEnvInt("PERMIT_CACHE_MAX_USER_ENTRIES", cfg.MaxUserEntries)
	cfg.SweepSchedule = getEnv("PERMIT_CACHE_SWEEP_SCHEDULE", cfg.SweepSchedule)
	return cfg
}

func loadGateConfig() GateConfig {
	return GateConfig{
		FailOpen:        getEnvBool("PERMIT_GATE_FAIL_OPEN", false),
		PolicyFile:      getEnv("PERMIT_GATE_POLICY_FILE", ""),
		PrincipalHeader: getEnv("PERMIT_PRINCIPAL_HEADER", "X-Authenticated-User"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("PERMIT_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("PERMIT_METRICS_ENABLED", true),
	}
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

	if c.Cache.FreshTTL <= 0 {
		return fmt.Errorf("cache fresh TTL must be positive")
	}
	if c.Cache.StaleGrace < 0 {
		return fmt.Errorf("cache stale grace must not be negative")
	}
	if c.Cache.BackoffBase <= 0 || c.Cache.BackoffMax < c.Cache.BackoffBase {
		return fmt.Errorf("cache backoff bounds are invalid")
	}
	if c.Cache.MaxUserEntries <= 0 {
		return fmt.Errorf("cache max user entries must be positive")
	}

	if c.Gate.PolicyFile != "" {
		if _, err := os.Stat(c.Gate.PolicyFile); err != nil {
			return fmt.Errorf("gate policy file is not readable: %w", err)
		}
	}

	return nil
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
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
