// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

// Package audit defines audit events, security alerts, the collaborator
// interfaces around them, and the DuckDB store that persists both.
//
// An Event is written once by the event processor and removed only by the
// retention sweep. An Alert is written once by the alert processor and
// afterwards changes only through acknowledgment or automated resolution.
package audit

import (
	"time"

	"github.com/goccy/go-json"
)

// Category classifies the platform area an event came from.
type Category string

const (
	CategoryAuthentication Category = "Authentication"
	CategoryAuthorization  Category = "Authorization"
	CategorySystemAccess   Category = "SystemAccess"
	CategoryDataAccess     Category = "DataAccess"
	CategoryConfiguration  Category = "Configuration"
	CategorySecurity       Category = "Security"
	CategoryNetwork        Category = "Network"
	CategoryError          Category = "Error"
	CategoryPerformance    Category = "Performance"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryAuthentication, CategoryAuthorization, CategorySystemAccess,
	CategoryDataAccess, CategoryConfiguration, CategorySecurity,
	CategoryNetwork, CategoryError, CategoryPerformance,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Outcome is the result of the audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeError   Outcome = "ERROR"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomeError
}

// AlertLevel is the coarse severity bucket shared by events and alerts.
type AlertLevel string

const (
	LevelInfo     AlertLevel = "INFO"
	LevelLow      AlertLevel = "LOW"
	LevelMedium   AlertLevel = "MEDIUM"
	LevelHigh     AlertLevel = "HIGH"
	LevelCritical AlertLevel = "CRITICAL"
)

// Levels lists alert levels from least to most severe.
var Levels = []AlertLevel{LevelInfo, LevelLow, LevelMedium, LevelHigh, LevelCritical}

// Rank orders levels; unknown levels rank below INFO.
func (l AlertLevel) Rank() int {
	for i, known := range Levels {
		if l == known {
			return i
		}
	}
	return -1
}

// AtLeast reports whether l is as severe as other or more.
func (l AlertLevel) AtLeast(other AlertLevel) bool {
	return l.Rank() >= other.Rank()
}

// ParseLevel converts s to an AlertLevel. ok is false for unknown values.
func ParseLevel(s string) (AlertLevel, bool) {
	l := AlertLevel(s)
	return l, l.Rank() >= 0
}

// Geolocation is best-effort location data for a source IP.
type Geolocation struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
}

// SystemInfo is best-effort client and host data attached at ingestion.
type SystemInfo struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
	Hostname       string `json:"hostname,omitempty"`
	Runtime        string `json:"runtime,omitempty"`
}

// Event is one observed platform action. It is immutable once persisted.
type Event struct {
	EventID    string                 `json:"event_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Category   Category               `json:"category"`
	EventType  string                 `json:"event_type"`
	UserID     string                 `json:"user_id"`
	UserRole   string                 `json:"user_role,omitempty"`
	SourceIP   string                 `json:"source_ip,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	Resource   string                 `json:"resource,omitempty"`
	Action     string                 `json:"action,omitempty"`
	Outcome    Outcome                `json:"outcome"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RiskScore  int                    `json:"risk_score"`
	AlertLevel AlertLevel             `json:"alert_level"`
	SessionID  string                 `json:"session_id,omitempty"`

	Geolocation *Geolocation `json:"geolocation,omitempty"`
	SystemInfo  *SystemInfo  `json:"system_info,omitempty"`

	// Encrypted is set when details are stored sealed. When the store cannot
	// open them, Details is nil and SealedDetails holds the ciphertext.
	Encrypted     bool   `json:"encrypted"`
	SealedDetails []byte `json:"-"`
}

// AlertType names a threat pattern.
type AlertType string

const (
	AlertBruteForce          AlertType = "brute_force"
	AlertPrivilegeEscalation AlertType = "privilege_escalation"
	AlertDataExfiltration    AlertType = "data_exfiltration"
	AlertSuspiciousLocation  AlertType = "suspicious_location"
	AlertOffHoursAccess      AlertType = "off_hours_access"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusCreated      AlertStatus = "CREATED"
	StatusStored       AlertStatus = "STORED"
	StatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	StatusAutoResolved AlertStatus = "AUTO_RESOLVED"
)

// Alert is raised when a threat pattern matches.
type Alert struct {
	AlertID          string     `json:"alert_id"`
	Timestamp        time.Time  `json:"timestamp"`
	AlertType        AlertType  `json:"alert_type"`
	Severity         AlertLevel `json:"severity"`
	Description      string     `json:"description"`
	AffectedUser     string     `json:"affected_user"`
	SourceEvents     []string   `json:"source_events"`
	RemediationSteps []string   `json:"remediation_steps"`
	AutoResolved     bool       `json:"auto_resolved"`
	AcknowledgedBy   string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at,omitempty"`

	// Stored is true once the alert has been persisted.
	Stored bool `json:"-"`
}

// Status derives the lifecycle state from the alert's fields.
func (a *Alert) Status() AlertStatus {
	switch {
	case a.AutoResolved:
		return StatusAutoResolved
	case a.AcknowledgedAt != nil:
		return StatusAcknowledged
	case a.Stored:
		return StatusStored
	default:
		return StatusCreated
	}
}

// MarshalJSON adds the derived status to the wire form.
func (a Alert) MarshalJSON() ([]byte, error) {
	type plain Alert
	return json.Marshal(struct {
		*plain
		Status AlertStatus `json:"status"`
	}{plain: (*plain)(&a), Status: a.Status()})
}
