// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package risk

import "github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"

// CriticalEventTypes are CRITICAL regardless of score.
var CriticalEventTypes = map[string]bool{
	"privilege_escalation": true,
	"security_violation":   true,
	"emergency_lockdown":   true,
	"system_compromise":    true,
	"data_breach":          true,
}

// Level thresholds, inclusive.
const (
	CriticalThreshold = 80
	HighThreshold     = 60
	MediumThreshold   = 40
	LowThreshold      = 20
)

// LevelFor maps a score to an alert level. For a fixed event type the
// mapping is a non-decreasing step function of score.
func LevelFor(score int, eventType string) audit.AlertLevel {
	switch {
	case CriticalEventTypes[eventType] || score >= CriticalThreshold:
		return audit.LevelCritical
	case score >= HighThreshold:
		return audit.LevelHigh
	case score >= MediumThreshold:
		return audit.LevelMedium
	case score >= LowThreshold:
		return audit.LevelLow
	default:
		return audit.LevelInfo
	}
}
