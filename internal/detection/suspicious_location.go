// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package detection

import (
	"context"
	"fmt"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
)

// SuspiciousLocationDetector flags successful logins by a known user from a
// source IP that user has not used inside the lookback window. Users with no
// prior history in the window are not flagged.
type SuspiciousLocationDetector struct {
	ruleBase
	counter EventCounter
}

// NewSuspiciousLocationDetector creates a suspicious location detector.
func NewSuspiciousLocationDetector(counter EventCounter) *SuspiciousLocationDetector {
	d := &SuspiciousLocationDetector{counter: counter}
	d.init(audit.AlertSuspiciousLocation)
	return d
}

// Check evaluates login_success events. Threshold is the number of prior
// events that makes a user known.
func (d *SuspiciousLocationDetector) Check(ctx context.Context, event *audit.Event) (*audit.Alert, error) {
	rule, enabled := d.snapshot()
	if !enabled || event.EventType != "login_success" || event.SourceIP == "" {
		return nil, nil
	}
	since := event.Timestamp.Add(-rule.Window)

	history, err := d.counter.CountEvents(ctx, audit.CountFilter{
		UserID:         event.UserID,
		Since:          since,
		ExcludeEventID: event.EventID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count user history: %w", err)
	}
	if history < int64(rule.Threshold) {
		return nil, nil
	}

	seen, err := d.counter.CountEvents(ctx, audit.CountFilter{
		UserID:         event.UserID,
		SourceIP:       event.SourceIP,
		Since:          since,
		ExcludeEventID: event.EventID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count source IP history: %w", err)
	}
	if seen > 0 {
		return nil, nil
	}

	description := fmt.Sprintf("User %s logged in from previously unseen IP %s", event.UserID, event.SourceIP)
	if geo := event.Geolocation; geo != nil && geo.Country != "" {
		description += fmt.Sprintf(" (%s)", formatLocation(geo))
	}
	return d.candidate(rule, event, description, nil), nil
}

func formatLocation(geo *audit.Geolocation) string {
	if geo.City == "" {
		return geo.Country
	}
	return geo.City + ", " + geo.Country
}
