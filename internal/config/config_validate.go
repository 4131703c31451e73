// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// KnownPatterns lists the pattern names accepted under detection.patterns.
var KnownPatterns = []string{
	"brute_force",
	"privilege_escalation",
	"data_exfiltration",
	"suspicious_location",
	"off_hours_access",
}

var validSeverities = map[string]bool{
	"INFO": true, "LOW": true, "MEDIUM": true, "HIGH": true, "CRITICAL": true,
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if err := c.validateAudit(); err != nil {
		return err
	}
	if err := c.validateRisk(); err != nil {
		return err
	}
	if err := c.validateDetection(); err != nil {
		return err
	}
	if err := c.validateEncryption(); err != nil {
		return err
	}
	if err := c.validateNotify(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAudit() error {
	a := c.Audit
	if a.RetentionDays < 1 {
		return fmt.Errorf("audit.retention_days must be at least 1, got %d", a.RetentionDays)
	}
	if a.BusinessHours.Start < 0 || a.BusinessHours.End > 24 || a.BusinessHours.Start >= a.BusinessHours.End {
		return fmt.Errorf("audit.business_hours must satisfy 0 <= start < end <= 24, got [%d,%d)",
			a.BusinessHours.Start, a.BusinessHours.End)
	}
	if a.IngestQueueSize < 1 || a.AlertQueueSize < 1 {
		return fmt.Errorf("audit queue sizes must be at least 1")
	}
	if a.IdleTimeout <= 0 {
		return fmt.Errorf("audit.idle_timeout must be positive")
	}
	if a.StoreMaxRetries < 0 {
		return fmt.Errorf("audit.store_max_retries must not be negative")
	}
	if a.CleanupInterval < time.Minute {
		return fmt.Errorf("audit.cleanup_interval must be at least 1m, got %s", a.CleanupInterval)
	}
	if a.Timezone != "" && a.Timezone != "Local" {
		if _, err := time.LoadLocation(a.Timezone); err != nil {
			return fmt.Errorf("audit.timezone is invalid: %w", err)
		}
	}
	return nil
}

func (c *Config) validateRisk() error {
	if c.Risk.HighActivityThreshold < 1 || c.Risk.FailedIPThreshold < 1 {
		return fmt.Errorf("risk thresholds must be at least 1")
	}
	if c.Risk.NewLocationLookback <= 0 {
		return fmt.Errorf("risk.new_location_lookback must be positive")
	}
	return nil
}

func (c *Config) validateDetection() error {
	for name, p := range c.Detection.Patterns {
		if !isKnownPattern(name) {
			return fmt.Errorf("detection.patterns: unknown pattern %q", name)
		}
		if p.Threshold < 0 || p.WindowSeconds < 0 {
			return fmt.Errorf("detection.patterns.%s: threshold and window_seconds must not be negative", name)
		}
		if p.Severity != "" && !validSeverities[strings.ToUpper(p.Severity)] {
			return fmt.Errorf("detection.patterns.%s: invalid severity %q", name, p.Severity)
		}
	}
	if c.Detection.SuppressionWindow < 0 {
		return fmt.Errorf("detection.suppression_window must not be negative")
	}
	return nil
}

func (c *Config) validateEncryption() error {
	if c.Audit.EncryptHighSeverity && !c.Audit.AllowPlaintextFallback && c.Encryption.Secret == "" {
		return fmt.Errorf("encryption.secret is required when audit.encrypt_high_severity is enabled")
	}
	if c.Encryption.Secret != "" && len(c.Encryption.Secret) < 16 {
		return fmt.Errorf("encryption.secret must be at least 16 characters")
	}
	return nil
}

func (c *Config) validateNotify() error {
	if !c.Notify.Webhook.Enabled {
		return nil
	}
	u, err := url.Parse(c.Notify.Webhook.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notify.webhook.url must be an http(s) URL, got %q", c.Notify.Webhook.URL)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitRequests < 0 {
		return fmt.Errorf("server.rate_limit_requests must not be negative, got %d", c.Server.RateLimitRequests)
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("server.rate_limit_window must be positive when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "disabled", "off":
	default:
		return fmt.Errorf("logging.level %q is invalid", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q is invalid", c.Logging.Format)
	}
	return nil
}

func isKnownPattern(name string) bool {
	for _, p := range KnownPatterns {
		if p == name {
			return true
		}
	}
	return false
}
