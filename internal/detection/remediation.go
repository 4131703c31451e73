// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package detection

import "github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"

var remediationCatalogue = map[audit.AlertType][]string{
	audit.AlertBruteForce: {
		"Temporarily lock the affected account",
		"Block the source IP address",
		"Force a password reset for the user",
		"Enable multi-factor authentication",
	},
	audit.AlertPrivilegeEscalation: {
		"Immediately revoke the user's elevated permissions",
		"Review recent actions performed by the user",
		"Audit role assignments for the affected account",
		"Escalate to the security team for investigation",
	},
	audit.AlertDataExfiltration: {
		"Suspend data access for the user",
		"Review the accessed resources and data volume",
		"Check for unauthorized exports or transfers",
		"Notify the data protection officer",
	},
	audit.AlertSuspiciousLocation: {
		"Verify the login with the user through a trusted channel",
		"Require re-authentication with multi-factor authentication",
		"Review active sessions for the account",
	},
	audit.AlertOffHoursAccess: {
		"Confirm the access was expected with the user or their manager",
		"Review actions performed during the session",
	},
}

// RemediationSteps returns a copy of the static checklist for t.
func RemediationSteps(t audit.AlertType) []string {
	steps := remediationCatalogue[t]
	if len(steps) == 0 {
		return []string{"Investigate the alert and the referenced events"}
	}
	out := make([]string, len(steps))
	copy(out, steps)
	return out
}
