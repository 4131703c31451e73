// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

// Package config defines the typed configuration for the audit engine and
// loads it from defaults, an optional YAML file, and environment variables.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Audit      AuditConfig      `koanf:"audit"`
	Risk       RiskConfig       `koanf:"risk"`
	Detection  DetectionConfig  `koanf:"detection"`
	Database   DatabaseConfig   `koanf:"database"`
	Encryption EncryptionConfig `koanf:"encryption"`
	Notify     NotifyConfig     `koanf:"notify"`
	DeadLetter DeadLetterConfig `koanf:"deadletter"`
	Server     ServerConfig     `koanf:"server"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// AuditConfig controls ingestion, the worker queues, retention, and the
// at-rest encryption policy.
type AuditConfig struct {
	RetentionDays    int           `koanf:"retention_days"`
	CleanupInterval  time.Duration `koanf:"cleanup_interval"`
	SnapshotInterval time.Duration `koanf:"snapshot_interval"`

	// EncryptHighSeverity encrypts details of HIGH and CRITICAL events.
	EncryptHighSeverity bool `koanf:"encrypt_high_severity"`
	// AllowPlaintextFallback stores details in plaintext when encryption
	// fails. Off by default; a failed encryption is a storage failure.
	AllowPlaintextFallback bool `koanf:"allow_plaintext_fallback"`

	IngestQueueSize   int           `koanf:"ingest_queue_size"`
	AlertQueueSize    int           `koanf:"alert_queue_size"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	DrainTimeout      time.Duration `koanf:"drain_timeout"`
	StoreMaxRetries   int           `koanf:"store_max_retries"`
	StoreRetryBackoff time.Duration `koanf:"store_retry_backoff"`
	NotifyTimeout     time.Duration `koanf:"notify_timeout"`
	EnrichTimeout     time.Duration `koanf:"enrich_timeout"`

	BusinessHours BusinessHoursConfig `koanf:"business_hours"`
	// Timezone is an IANA name used for business-hours checks. "Local" uses
	// the host zone.
	Timezone string `koanf:"timezone"`
}

// BusinessHoursConfig is a half-open hour range [Start, End).
type BusinessHoursConfig struct {
	Start int `koanf:"start"`
	End   int `koanf:"end"`
}

// RiskConfig tunes the behavioural parts of risk scoring.
type RiskConfig struct {
	HighActivityThreshold int           `koanf:"high_activity_threshold"`
	FailedIPThreshold     int           `koanf:"failed_ip_threshold"`
	SuspiciousIPTTL       time.Duration `koanf:"suspicious_ip_ttl"`
	NewLocationLookback   time.Duration `koanf:"new_location_lookback"`
}

// PatternConfig overrides one catalogue entry. Zero values keep the
// built-in default.
type PatternConfig struct {
	Enabled       *bool  `koanf:"enabled"`
	Threshold     int    `koanf:"threshold"`
	WindowSeconds int    `koanf:"window_seconds"`
	Severity      string `koanf:"severity"`
}

// DetectionConfig holds per-pattern overrides keyed by pattern name.
type DetectionConfig struct {
	Patterns map[string]PatternConfig `koanf:"patterns"`
	// SuppressionWindow drops repeat alerts of the same type for the same
	// user inside the window. Zero disables suppression.
	SuppressionWindow time.Duration `koanf:"suppression_window"`
}

// DatabaseConfig configures the DuckDB store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// EncryptionConfig supplies the secret the key-custody adapter derives its
// data key from.
type EncryptionConfig struct {
	Secret string `koanf:"secret"`
}

// NotifyConfig configures alert delivery adapters.
type NotifyConfig struct {
	Log     bool          `koanf:"log"`
	Webhook WebhookConfig `koanf:"webhook"`
	Bus     BusConfig     `koanf:"bus"`
}

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	Enabled         bool          `koanf:"enabled"`
	URL             string        `koanf:"url"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitPerMin int           `koanf:"rate_limit_per_min"`
}

// BusConfig configures alert forwarding onto the message bus.
type BusConfig struct {
	Enabled bool   `koanf:"enabled"`
	Topic   string `koanf:"topic"`
	// URL of an external NATS server. Empty starts an embedded server when
	// the binary is built with the nats tag.
	URL      string `koanf:"url"`
	StoreDir string `koanf:"store_dir"`
}

// DeadLetterConfig configures the record of dropped items.
type DeadLetterConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// ServerConfig configures the operations HTTP endpoint.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins lists allowed origins for /api/v1. Empty allows none.
	CORSOrigins []string `koanf:"cors_origins"`
	// RateLimitRequests per RateLimitWindow per client IP on /api/v1.
	// Zero disables rate limiting.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// SupervisorConfig mirrors suture's restart tuning.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Location resolves Audit.Timezone, falling back to time.Local.
func (a AuditConfig) Location() *time.Location {
	if a.Timezone == "" || a.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
