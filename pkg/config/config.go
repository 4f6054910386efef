package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/keys"
	"github.com/platinummonkey/gatekeeper/pkg/maintenance"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Environment names. Production refuses the auth bypass.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all application configuration
type Config struct {
	Environment string

	Server        ServerConfig
	Storage       storage.Config
	Auth          auth.Config
	Keys          KeysConfig
	Audit         AuditConfig
	Maintenance   maintenance.SchedulerConfig
	RateLimit     RateLimitConfig
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

// KeysConfig tunes issuance guard rails.
type KeysConfig struct {
	DefaultExpirationDays int
	MinExpirationDays     int
	MaxExpirationDays     int
	MaxKeysPerOwner       int
	RotationGracePeriod   time.Duration
	BcryptCost            int
}

// AuditConfig selects the audit sink.
type AuditConfig struct {
	// Sink is "db", "file", "multi" (db and file together), or "noop".
	Sink string

	// FilePath is the NDJSON log location for the file sink.
	FilePath string
}

// RateLimitConfig selects request throttling.
type RateLimitConfig struct {
	Enabled bool

	// Distributed uses Redis-backed counters shared across replicas.
	// Requires a Redis URL.
	Distributed bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	storageCfg := loadStorageConfig()

	// the durable sink needs a database; a bare development start without
	// one falls back to the noop sink
	defaultSink := "noop"
	if storageCfg.PostgresURL != "" {
		defaultSink = "db"
	}

	cfg := &Config{
		Environment: getEnv("GATEKEEPER_ENV", EnvDevelopment),
		Server:      loadServerConfig(),
		Storage:     storageCfg,
		Auth: auth.Config{
			BypassEnabled:       getEnvBool("GATEKEEPER_AUTH_BYPASS", false),
			TrustedProxyEnabled: getEnvBool("GATEKEEPER_TRUSTED_PROXY", false),
			AdminGroup:          getEnv("GATEKEEPER_ADMIN_GROUP", "gatekeeper-admins"),
		},
		Keys: KeysConfig{
			DefaultExpirationDays: getEnvInt("GATEKEEPER_DEFAULT_EXPIRATION_DAYS", 90),
			MinExpirationDays:     1,
			MaxExpirationDays:     getEnvInt("GATEKEEPER_MAX_EXPIRATION_DAYS", 365),
			MaxKeysPerOwner:       getEnvInt("GATEKEEPER_MAX_KEYS_PER_OWNER", 10),
			RotationGracePeriod:   getEnvDuration("GATEKEEPER_ROTATION_GRACE_PERIOD", 24*time.Hour),
			BcryptCost:            getEnvInt("GATEKEEPER_BCRYPT_COST", keys.DefaultBcryptCost),
		},
		Audit: AuditConfig{
			Sink:     getEnv("GATEKEEPER_AUDIT_SINK", defaultSink),
			FilePath: getEnv("GATEKEEPER_AUDIT_FILE_PATH", "/var/log/gatekeeper/audit.ndjson"),
		},
		Maintenance: maintenance.SchedulerConfig{
			ExpirationSchedule: getEnv("GATEKEEPER_EXPIRATION_SCHEDULE", maintenance.DefaultExpirationSchedule),
			GraceSchedule:      getEnv("GATEKEEPER_GRACE_SCHEDULE", maintenance.DefaultGraceSchedule),
			SweepTimeout:       getEnvDuration("GATEKEEPER_SWEEP_TIMEOUT", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getEnvBool("GATEKEEPER_RATELIMIT_ENABLED", true),
			Distributed: getEnvBool("GATEKEEPER_RATELIMIT_DISTRIBUTED", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:            getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEKEEPER_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("GATEKEEPER_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}

	if pgURL := getEnv("GATEKEEPER_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("GATEKEEPER_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("GATEKEEPER_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("GATEKEEPER_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	if redisURL := getEnv("GATEKEEPER_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("GATEKEEPER_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("GATEKEEPER_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("GATEKEEPER_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
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
	case "memory":
		// nothing to check; development only
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres, redis, or memory)", c.Storage.Type)
	}

	if c.Auth.BypassEnabled && c.Environment == EnvProduction {
		return fmt.Errorf("auth bypass cannot be enabled in production")
	}

	switch c.Audit.Sink {
	case "noop":
	case "file":
		if c.Audit.FilePath == "" {
			return fmt.Errorf("audit file path is required for the file sink")
		}
	case "db":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("the db audit sink requires a postgres URL")
		}
	case "multi":
		if c.Storage.PostgresURL == "" || c.Audit.FilePath == "" {
			return fmt.Errorf("the multi audit sink requires both a postgres URL and a file path")
		}
	default:
		return fmt.Errorf("invalid audit sink: %s (must be db, file, multi, or noop)", c.Audit.Sink)
	}

	if c.Keys.BcryptCost < bcrypt.MinCost || c.Keys.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost %d out of range [%d, %d]", c.Keys.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Keys.DefaultExpirationDays < c.Keys.MinExpirationDays || c.Keys.DefaultExpirationDays > c.Keys.MaxExpirationDays {
		return fmt.Errorf("default expiration of %d days falls outside [%d, %d]",
			c.Keys.DefaultExpirationDays, c.Keys.MinExpirationDays, c.Keys.MaxExpirationDays)
	}

	if c.RateLimit.Distributed && c.Storage.RedisURL == "" {
		return fmt.Errorf("distributed rate limiting requires a redis URL")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
