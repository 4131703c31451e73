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

// PrivilegeEscalationDetector flags unauthorized access to admin resources.
// A single event is enough.
type PrivilegeEscalationDetector struct {
	ruleBase
}

// NewPrivilegeEscalationDetector creates a privilege escalation detector.
func NewPrivilegeEscalationDetector() *PrivilegeEscalationDetector {
	d := &PrivilegeEscalationDetector{}
	d.init(audit.AlertPrivilegeEscalation)
	return d
}

// Check matches unauthorized_access events whose resource mentions admin.
func (d *PrivilegeEscalationDetector) Check(_ context.Context, event *audit.Event) (*audit.Alert, error) {
	rule, enabled := d.snapshot()
	if !enabled || event.EventType != "unauthorized_access" {
		return nil, nil
	}
	if !strings.Contains(strings.ToLower(event.Resource), "admin") {
		return nil, nil
	}

	description := fmt.Sprintf(
		"User %s attempted unauthorized access to admin resource %q",
		event.UserID, event.Resource,
	)
	if event.UserRole != "" {
		description += fmt.Sprintf(" with role %s", event.UserRole)
	}
	return d.candidate(rule, event, description, nil), nil
}
