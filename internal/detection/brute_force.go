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

// BruteForceDetector flags repeated failed logins for one user.
type BruteForceDetector struct {
	ruleBase
	counter EventCounter
}

// NewBruteForceDetector creates a brute force detector with default rule.
func NewBruteForceDetector(counter EventCounter) *BruteForceDetector {
	d := &BruteForceDetector{counter: counter}
	d.init(audit.AlertBruteForce)
	return d
}

// Check counts login_failed events for the user inside the window. The
// event under evaluation is already stored and is part of the count.
func (d *BruteForceDetector) Check(ctx context.Context, event *audit.Event) (*audit.Alert, error) {
	rule, enabled := d.snapshot()
	if !enabled || event.EventType != "login_failed" {
		return nil, nil
	}

	filter := audit.CountFilter{
		UserID:     event.UserID,
		EventTypes: []string{"login_failed"},
		Since:      event.Timestamp.Add(-rule.Window),
	}
	n, err := d.counter.CountEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count failed logins: %w", err)
	}
	if n < int64(rule.Threshold) {
		return nil, nil
	}

	description := fmt.Sprintf(
		"%d failed login attempts for user %s in the last %s (threshold %d)",
		n, event.UserID, rule.Window, rule.Threshold,
	)
	if event.SourceIP != "" {
		description += ", latest from " + event.SourceIP
	}
	return d.candidate(rule, event, description, recentEvents(ctx, d.counter, filter, int(n))), nil
}
