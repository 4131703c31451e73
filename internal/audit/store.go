// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package audit

import (
	"context"
	"time"
)

// Store persists events and alerts. Implementations must be safe for
// concurrent use; rolling counts may be slightly stale under concurrent
// writes.
type Store interface {
	InsertEvent(ctx context.Context, event *Event) error
	InsertAlert(ctx context.Context, alert *Alert) error

	// CountEvents returns the number of events matching filter.
	CountEvents(ctx context.Context, filter CountFilter) (int64, error)

	// ListEventIDs returns up to limit IDs of events matching filter, newest
	// first.
	ListEventIDs(ctx context.Context, filter CountFilter, limit int) ([]string, error)

	// QueryDashboard aggregates events in [q.Since, q.Until). Sections that
	// fail are listed in the result; an error is returned only when every
	// section failed.
	QueryDashboard(ctx context.Context, q DashboardQuery) (*Dashboard, error)

	// DeleteEventsOlderThan removes events with timestamp before cutoff and
	// returns how many were removed.
	DeleteEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	GetEvent(ctx context.Context, eventID string) (*Event, error)
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID, by string, at time.Time) error
	MarkAutoResolved(ctx context.Context, alertID string) error
}

// CountFilter selects events for rolling counts. Empty fields do not filter.
type CountFilter struct {
	UserID   string
	SourceIP string
	// EventTypes matches any of the listed types exactly.
	EventTypes []string
	// EventTypeContains matches event types containing the substring.
	EventTypeContains string
	Outcome           Outcome
	Since             time.Time
	Until             time.Time
	ExcludeEventID    string
}

// AlertFilter selects alerts for listing.
type AlertFilter struct {
	AlertType    AlertType
	Severity     AlertLevel
	AffectedUser string
	// Acknowledged filters on acknowledgment when non-nil.
	Acknowledged *bool
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

// DashboardQuery bounds a dashboard aggregation.
type DashboardQuery struct {
	Since time.Time
	Until time.Time
	TopN  int
}

// Activity is one entry of a top-N ranking.
type Activity struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Dashboard sections, used to report which aggregates failed.
const (
	SectionTotal      = "total_events"
	SectionCategories = "events_by_category"
	SectionRisk       = "risk_distribution"
	SectionTopUsers   = "top_users"
	SectionTopIPs     = "top_ips"
	SectionAlerts     = "active_alerts"
)

// Dashboard is the security overview for a time range.
type Dashboard struct {
	TotalEvents      int64            `json:"total_events"`
	EventsByCategory map[string]int64 `json:"events_by_category"`
	RiskDistribution map[string]int64 `json:"risk_distribution"`
	TopUsers         []Activity       `json:"top_users"`
	TopIPs           []Activity       `json:"top_ips"`
	ActiveAlerts     int64            `json:"active_alerts"`
	GeneratedAt      time.Time        `json:"generated_at"`
	RangeHours       int              `json:"time_range_hours"`
	Partial          bool             `json:"partial"`
	Stale            bool             `json:"stale"`
	FailedSections   []string         `json:"failed_sections,omitempty"`
}

// KeyCustody seals and opens sensitive event details.
type KeyCustody interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Notifier delivers a high-severity alert somewhere outside the engine.
// Send reports whether the alert was delivered.
type Notifier interface {
	Name() string
	Send(ctx context.Context, alert *Alert) (bool, error)
}

// Geolocator resolves an IP to a location. A nil result with a nil error
// means the IP is unknown.
type Geolocator interface {
	Lookup(ctx context.Context, ip string) (*Geolocation, error)
}

// CriticalResponder reacts to CRITICAL alerts. It returns true when the
// threat was contained and the alert can be marked auto-resolved.
type CriticalResponder interface {
	Respond(ctx context.Context, alert *Alert) (bool, error)
}
