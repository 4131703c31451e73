// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package detection

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
)

// DataExfiltrationDetector flags bulk data access by one user.
type DataExfiltrationDetector struct {
	ruleBase
	counter EventCounter
}

// NewDataExfiltrationDetector creates a data exfiltration detector.
func NewDataExfiltrationDetector(counter EventCounter) *DataExfiltrationDetector {
	d := &DataExfiltrationDetector{counter: counter}
	d.init(audit.AlertDataExfiltration)
	return d
}

// Check counts data access events for the user inside the window.
func (d *DataExfiltrationDetector) Check(ctx context.Context, event *audit.Event) (*audit.Alert, error) {
	rule, enabled := d.snapshot()
	if !enabled || !strings.Contains(event.EventType, "data_access") {
		return nil, nil
	}

	filter := audit.CountFilter{
		UserID:            event.UserID,
		EventTypeContains: "data_access",
		Since:             event.Timestamp.Add(-rule.Window),
	}
	n, err := d.counter.CountEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count data access: %w", err)
	}
	if n < int64(rule.Threshold) {
		return nil, nil
	}

	description := fmt.Sprintf(
		"User %s performed %d data access operations in the last %s (threshold %d)",
		event.UserID, n, rule.Window, rule.Threshold,
	)
	return d.candidate(rule, event, description, recentEvents(ctx, d.counter, filter, maxSourceEvents)), nil
}
