package config

import (
	"testing"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Environment != EnvDevelopment {
		t.Errorf("environment = %q, want development", cfg.Environment)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("health port = %q, want 9090", cfg.Server.HealthPort)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("storage type = %q, want memory", cfg.Storage.Type)
	}
	if cfg.Audit.Sink != "noop" {
		t.Errorf("audit sink = %q, want noop without a database", cfg.Audit.Sink)
	}
	if cfg.Auth.BypassEnabled {
		t.Error("bypass enabled by default")
	}
	if cfg.Keys.DefaultExpirationDays != 90 {
		t.Errorf("default expiration = %d, want 90", cfg.Keys.DefaultExpirationDays)
	}
	if cfg.Keys.RotationGracePeriod != 24*time.Hour {
		t.Errorf("grace period = %v, want 24h", cfg.Keys.RotationGracePeriod)
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("log level = %v, want info", cfg.Observability.LogLevel)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("GATEKEEPER_PORT", "8181")
	t.Setenv("GATEKEEPER_STORAGE_TYPE", "postgres")
	t.Setenv("GATEKEEPER_POSTGRES_URL", "postgres://localhost/gatekeeper?sslmode=disable")
	t.Setenv("GATEKEEPER_TRUSTED_PROXY", "true")
	t.Setenv("GATEKEEPER_ADMIN_GROUP", "platform-admins")
	t.Setenv("GATEKEEPER_ROTATION_GRACE_PERIOD", "1h")
	t.Setenv("GATEKEEPER_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Server.Port != "8181" {
		t.Errorf("port = %q, want 8181", cfg.Server.Port)
	}
	if cfg.Storage.Type != "postgres" {
		t.Errorf("storage type = %q, want postgres", cfg.Storage.Type)
	}
	if cfg.Audit.Sink != "db" {
		t.Errorf("audit sink = %q, want db once a database is configured", cfg.Audit.Sink)
	}
	if !cfg.Auth.TrustedProxyEnabled {
		t.Error("trusted proxy not enabled")
	}
	if cfg.Auth.AdminGroup != "platform-admins" {
		t.Errorf("admin group = %q, want platform-admins", cfg.Auth.AdminGroup)
	}
	if cfg.Keys.RotationGracePeriod != time.Hour {
		t.Errorf("grace period = %v, want 1h", cfg.Keys.RotationGracePeriod)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("log level = %v, want debug", cfg.Observability.LogLevel)
	}
}

func TestValidateRejectsBypassInProduction(t *testing.T) {
	t.Setenv("GATEKEEPER_ENV", "production")
	t.Setenv("GATEKEEPER_AUTH_BYPASS", "true")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() accepted bypass in production")
	}
}

func TestValidateStorageRequirements(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without URL", map[string]string{
			"GATEKEEPER_STORAGE_TYPE": "postgres",
		}},
		{"redis without URL", map[string]string{
			"GATEKEEPER_STORAGE_TYPE": "redis",
		}},
		{"unknown backend", map[string]string{
			"GATEKEEPER_STORAGE_TYPE": "cassandra",
		}},
		{"same ports", map[string]string{
			"GATEKEEPER_PORT":        "8080",
			"GATEKEEPER_HEALTH_PORT": "8080",
		}},
		{"db sink without database", map[string]string{
			"GATEKEEPER_AUDIT_SINK": "db",
		}},
		{"unknown sink", map[string]string{
			"GATEKEEPER_AUDIT_SINK": "kafka",
		}},
		{"bcrypt cost too high", map[string]string{
			"GATEKEEPER_BCRYPT_COST": "99",
		}},
		{"default expiration above maximum", map[string]string{
			"GATEKEEPER_DEFAULT_EXPIRATION_DAYS": "400",
		}},
		{"distributed rate limit without redis", map[string]string{
			"GATEKEEPER_RATELIMIT_DISTRIBUTED": "true",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Error("LoadConfig() accepted an invalid configuration")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"ERROR", observability.ErrorLevel},
		{"nonsense", observability.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
