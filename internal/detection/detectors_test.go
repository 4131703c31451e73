// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/config"
)

// ============================================================================
// Brute force
// ============================================================================

func TestBruteForceDetector_FifthFailureTriggers(t *testing.T) {
	counter := &memCounter{}
	detector := NewBruteForceDetector(counter)
	ctx := context.Background()

	var fifth *audit.Alert
	var fifthID string
	for i := 0; i < 6; i++ {
		e := newEvent("login_failed", "user1", "10.0.0.1", businessNoon.Add(time.Duration(i)*10*time.Second))
		e.Outcome = audit.OutcomeFailure
		counter.add(e)

		alert, err := detector.Check(ctx, e)
		if err != nil {
			t.Fatalf("Check #%d failed: %v", i+1, err)
		}
		switch {
		case i < 4 && alert != nil:
			t.Fatalf("event #%d should not trigger, got %+v", i+1, alert)
		case i == 4:
			fifth, fifthID = alert, e.EventID
		}
	}

	if fifth == nil {
		t.Fatal("expected the 5th failure to trigger brute_force")
	}
	if fifth.Severity != audit.LevelHigh {
		t.Errorf("Severity = %s, want HIGH", fifth.Severity)
	}
	if fifth.AffectedUser != "user1" {
		t.Errorf("AffectedUser = %q, want user1", fifth.AffectedUser)
	}
	if fifth.SourceEvents[0] != fifthID {
		t.Errorf("SourceEvents[0] = %q, want trigger %q", fifth.SourceEvents[0], fifthID)
	}
	if len(fifth.SourceEvents) != 5 {
		t.Errorf("len(SourceEvents) = %d, want 5", len(fifth.SourceEvents))
	}
}

func TestBruteForceDetector_OutsideWindow(t *testing.T) {
	counter := &memCounter{}
	detector := NewBruteForceDetector(counter)

	for i := 0; i < 4; i++ {
		counter.add(newEvent("login_failed", "user1", "10.0.0.1", businessNoon.Add(-time.Hour)))
	}
	e := newEvent("login_failed", "user1", "10.0.0.1", businessNoon)
	counter.add(e)

	alert, err := detector.Check(context.Background(), e)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if alert != nil {
		t.Error("old failures outside the window must not count")
	}
}

func TestBruteForceDetector_IgnoresOtherEventTypes(t *testing.T) {
	counter := &memCounter{err: errCounterDown}
	detector := NewBruteForceDetector(counter)

	alert, err := detector.Check(context.Background(), newEvent("login_success", "user1", "10.0.0.1", businessNoon))
	if err != nil || alert != nil {
		t.Errorf("Check(login_success) = %v, %v; want nil, nil without touching the store", alert, err)
	}
}

func TestBruteForceDetector_CounterError(t *testing.T) {
	counter := &memCounter{err: errCounterDown}
	detector := NewBruteForceDetector(counter)

	_, err := detector.Check(context.Background(), newEvent("login_failed", "user1", "10.0.0.1", businessNoon))
	if !errors.Is(err, errCounterDown) {
		t.Errorf("err = %v, want wrapped errCounterDown", err)
	}
}

// ============================================================================
// Privilege escalation
// ============================================================================

func TestPrivilegeEscalationDetector(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		resource  string
		want      bool
	}{
		{"admin panel", "unauthorized_access", "admin_panel", true},
		{"mixed case", "unauthorized_access", "/Admin/users", true},
		{"non admin resource", "unauthorized_access", "/reports", false},
		{"authorized access", "data_access", "admin_panel", false},
	}

	detector := NewPrivilegeEscalationDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEvent(tt.eventType, "user1", "10.0.0.1", businessNoon)
			e.Resource = tt.resource

			alert, err := detector.Check(context.Background(), e)
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if (alert != nil) != tt.want {
				t.Fatalf("alert = %v, want match %v", alert, tt.want)
			}
			if alert != nil && alert.Severity != audit.LevelCritical {
				t.Errorf("Severity = %s, want CRITICAL", alert.Severity)
			}
		})
	}
}

// ============================================================================
// Data exfiltration
// ============================================================================

func TestDataExfiltrationDetector(t *testing.T) {
	counter := &memCounter{}
	detector := NewDataExfiltrationDetector(counter)
	ctx := context.Background()

	var last *audit.Event
	for i := 0; i < 100; i++ {
		last = newEvent("bulk_data_access", "user2", "10.0.0.2", businessNoon.Add(time.Duration(i)*time.Second))
		counter.add(last)
		if i == 98 {
			alert, err := detector.Check(ctx, last)
			if err != nil || alert != nil {
				t.Fatalf("99 accesses: Check = %v, %v; want no alert", alert, err)
			}
		}
	}

	alert, err := detector.Check(ctx, last)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if alert == nil {
		t.Fatal("expected data_exfiltration alert at 100 accesses")
	}
	if len(alert.SourceEvents) > maxSourceEvents {
		t.Errorf("len(SourceEvents) = %d, want at most %d", len(alert.SourceEvents), maxSourceEvents)
	}
	if alert.SourceEvents[0] != last.EventID {
		t.Errorf("SourceEvents[0] = %q, want %q", alert.SourceEvents[0], last.EventID)
	}
}

// ============================================================================
// Suspicious location
// ============================================================================

func TestSuspiciousLocationDetector(t *testing.T) {
	t.Run("first event for user is not flagged", func(t *testing.T) {
		counter := &memCounter{}
		detector := NewSuspiciousLocationDetector(counter)
		e := newEvent("login_success", "fresh", "10.0.0.9", businessNoon)
		counter.add(e)

		alert, err := detector.Check(context.Background(), e)
		if err != nil || alert != nil {
			t.Errorf("Check = %v, %v; want no alert for a user without history", alert, err)
		}
	})

	t.Run("known IP is not flagged", func(t *testing.T) {
		counter := &memCounter{}
		detector := NewSuspiciousLocationDetector(counter)
		counter.add(newEvent("login_success", "user1", "10.0.0.1", businessNoon.Add(-24*time.Hour)))
		e := newEvent("login_success", "user1", "10.0.0.1", businessNoon)
		counter.add(e)

		alert, err := detector.Check(context.Background(), e)
		if err != nil || alert != nil {
			t.Errorf("Check = %v, %v; want no alert for a known IP", alert, err)
		}
	})

	t.Run("unseen IP for known user is flagged", func(t *testing.T) {
		counter := &memCounter{}
		detector := NewSuspiciousLocationDetector(counter)
		counter.add(newEvent("login_success", "user1", "10.0.0.1", businessNoon.Add(-24*time.Hour)))
		e := newEvent("login_success", "user1", "203.0.113.7", businessNoon)
		e.Geolocation = &audit.Geolocation{Country: "NL", City: "Amsterdam"}
		counter.add(e)

		alert, err := detector.Check(context.Background(), e)
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if alert == nil {
			t.Fatal("expected suspicious_location alert")
		}
		if alert.Severity != audit.LevelMedium {
			t.Errorf("Severity = %s, want MEDIUM", alert.Severity)
		}
	})

	t.Run("history older than lookback is ignored", func(t *testing.T) {
		counter := &memCounter{}
		detector := NewSuspiciousLocationDetector(counter)
		counter.add(newEvent("login_success", "user1", "10.0.0.1", businessNoon.Add(-31*24*time.Hour)))
		e := newEvent("login_success", "user1", "203.0.113.7", businessNoon)
		counter.add(e)

		alert, err := detector.Check(context.Background(), e)
		if err != nil || alert != nil {
			t.Errorf("Check = %v, %v; want no alert", alert, err)
		}
	})
}

// ============================================================================
// Off hours
// ============================================================================

func TestOffHoursDetector(t *testing.T) {
	detector := NewOffHoursDetector(utcHours())
	twoAM := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		eventType string
		ts        time.Time
		want      bool
	}{
		{"system access at 02:00", "system_access", twoAM, true},
		{"login at 02:00", "login_success", twoAM, true},
		{"login at noon", "login_success", businessNoon, false},
		{"login at 18:00", "login_success", time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC), true},
		{"login at 09:00", "login_success", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), false},
		{"data access at 02:00", "data_access", twoAM, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert, err := detector.Check(context.Background(), newEvent(tt.eventType, "user1", "10.0.0.1", tt.ts))
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if (alert != nil) != tt.want {
				t.Fatalf("alert = %v, want match %v", alert, tt.want)
			}
			if alert != nil && alert.Severity != audit.LevelLow {
				t.Errorf("Severity = %s, want LOW", alert.Severity)
			}
		})
	}
}

func TestBusinessHours_Location(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	hours := BusinessHours{Start: 9, End: 18, Location: tokyo}

	// 02:00 UTC is 11:00 in Tokyo.
	if !hours.Contains(time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)) {
		t.Error("02:00 UTC should be inside Tokyo business hours")
	}
}

// ============================================================================
// Configuration
// ============================================================================

func TestConfigure(t *testing.T) {
	detector := NewBruteForceDetector(&memCounter{})
	disabled := false

	err := detector.Configure(config.PatternConfig{
		Enabled:       &disabled,
		Threshold:     3,
		WindowSeconds: 60,
		Severity:      "CRITICAL",
	})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	rule := detector.Rule()
	want := Rule{Threshold: 3, Window: time.Minute, Severity: audit.LevelCritical}
	if rule != want {
		t.Errorf("Rule() = %+v, want %+v", rule, want)
	}
	if detector.Enabled() {
		t.Error("detector should be disabled")
	}
}

func TestConfigure_ZeroValuesKeepDefaults(t *testing.T) {
	detector := NewDataExfiltrationDetector(&memCounter{})
	if err := detector.Configure(config.PatternConfig{}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if got := detector.Rule(); got != DefaultRules[audit.AlertDataExfiltration] {
		t.Errorf("Rule() = %+v, want defaults", got)
	}
	if !detector.Enabled() {
		t.Error("detector should stay enabled")
	}
}

func TestConfigure_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.PatternConfig
	}{
		{"negative threshold", config.PatternConfig{Threshold: -1}},
		{"negative window", config.PatternConfig{WindowSeconds: -5}},
		{"unknown severity", config.PatternConfig{Severity: "SEVERE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detector := NewBruteForceDetector(&memCounter{})
			if err := detector.Configure(tt.cfg); err == nil {
				t.Error("expected error")
			}
			if got := detector.Rule(); got != DefaultRules[audit.AlertBruteForce] {
				t.Errorf("rejected config changed the rule: %+v", got)
			}
		})
	}
}

func TestDisabledDetectorNeverMatches(t *testing.T) {
	detector := NewPrivilegeEscalationDetector()
	detector.SetEnabled(false)

	e := newEvent("unauthorized_access", "user1", "10.0.0.1", businessNoon)
	e.Resource = "admin_panel"
	alert, err := detector.Check(context.Background(), e)
	if err != nil || alert != nil {
		t.Errorf("Check = %v, %v; want nil, nil", alert, err)
	}
}

func TestRemediationSteps(t *testing.T) {
	steps := RemediationSteps(audit.AlertBruteForce)
	if len(steps) != 4 {
		t.Fatalf("brute_force steps = %d, want 4", len(steps))
	}
	steps[0] = "mutated"
	if RemediationSteps(audit.AlertBruteForce)[0] == "mutated" {
		t.Error("RemediationSteps must return a copy")
	}
	if len(RemediationSteps("unknown")) == 0 {
		t.Error("unknown alert types still get a generic step")
	}
}
