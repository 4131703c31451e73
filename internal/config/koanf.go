// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/guardianshield/config.yaml",
	"/etc/guardianshield/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix marks environment variables read as configuration. Nested keys
// are separated by a double underscore:
//
//	GUARDIAN_AUDIT__RETENTION_DAYS=30 -> audit.retention_days
//	GUARDIAN_DETECTION__PATTERNS__BRUTE_FORCE__THRESHOLD=3
const EnvPrefix = "GUARDIAN_"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Audit: AuditConfig{
			RetentionDays:          90,
			CleanupInterval:        time.Hour,
			SnapshotInterval:       time.Hour,
			EncryptHighSeverity:    true,
			AllowPlaintextFallback: false,
			IngestQueueSize:        10000,
			AlertQueueSize:         1000,
			IdleTimeout:            250 * time.Millisecond,
			DrainTimeout:           10 * time.Second,
			StoreMaxRetries:        3,
			StoreRetryBackoff:      100 * time.Millisecond,
			NotifyTimeout:          5 * time.Second,
			EnrichTimeout:          200 * time.Millisecond,
			BusinessHours:          BusinessHoursConfig{Start: 9, End: 18},
			Timezone:               "Local",
		},
		Risk: RiskConfig{
			HighActivityThreshold: 50,
			FailedIPThreshold:     10,
			SuspiciousIPTTL:       time.Hour,
			NewLocationLookback:   30 * 24 * time.Hour,
		},
		Detection: DetectionConfig{
			Patterns:          map[string]PatternConfig{},
			SuppressionWindow: 0,
		},
		Database: DatabaseConfig{
			Path:      "/data/guardianshield.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Notify: NotifyConfig{
			Log: true,
			Webhook: WebhookConfig{
				Timeout:         10 * time.Second,
				RateLimitPerMin: 30,
			},
			Bus: BusConfig{
				Topic:    "security.alerts",
				StoreDir: "/data/nats/jetstream",
			},
		},
		DeadLetter: DeadLetterConfig{
			Enabled: true,
			Path:    "/data/deadletter",
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9090,
			Timeout: 15 * time.Second,

			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from three layers, later ones winning:
// built-in defaults, the YAML config file if one exists, then environment
// variables. The result is validated before it is returned.
func Load() (*Config, error) {
	return LoadFrom(findConfigFile())
}

// LoadFrom is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if cfg.Detection.Patterns == nil {
		cfg.Detection.Patterns = map[string]PatternConfig{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// legacyEnv maps short, unprefixed-style names onto config paths.
var legacyEnv = map[string]string{
	"log_level":         "logging.level",
	"log_format":        "logging.format",
	"duckdb_path":       "database.path",
	"http_port":         "server.port",
	"encryption_secret": "encryption.secret",
	"webhook_url":       "notify.webhook.url",
	"nats_url":          "notify.bus.url",
}

// envTransformFunc maps GUARDIAN_* variable names onto koanf paths.
// Returning "" skips the variable.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if mapped, ok := legacyEnv[key]; ok {
		return mapped
	}
	if !strings.Contains(key, "__") {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}
