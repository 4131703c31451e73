// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

// Package detection matches newly persisted audit events against a fixed
// catalogue of threat patterns and produces security alerts.
//
// Detection Architecture:
//
//	persisted Event -> Matcher -> Detector (one per pattern) -> Alert candidates
//	                      |
//	                      v
//	              rolling counts from the audit store
//
// Supported patterns:
//   - brute_force: repeated login_failed for one user in a short window
//   - privilege_escalation: unauthorized_access against an admin resource
//   - data_exfiltration: bulk data_access by one user in an hour
//   - suspicious_location: a known user logging in from an unseen IP
//   - off_hours_access: logins and system access outside business hours
//
// Each detector is evaluated independently. A failing or panicking detector
// is reported as an *audit.PatternError and does not stop the others.
package detection
