// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/config"
)

// EventCounter is the slice of the audit store the detectors read.
type EventCounter interface {
	CountEvents(ctx context.Context, filter audit.CountFilter) (int64, error)
	ListEventIDs(ctx context.Context, filter audit.CountFilter, limit int) ([]string, error)
}

// Detector evaluates one threat pattern.
type Detector interface {
	// Type returns the pattern this detector evaluates.
	Type() audit.AlertType

	// Check evaluates the event. It returns nil when the pattern does not
	// match. The returned alert carries type, severity, description,
	// affected user and source events; the matcher fills in the rest.
	Check(ctx context.Context, event *audit.Event) (*audit.Alert, error)

	// Configure applies overrides on top of the current rule.
	Configure(cfg config.PatternConfig) error

	Enabled() bool
	SetEnabled(enabled bool)
	Rule() Rule
}

// Rule is the tunable part of a catalogue entry.
type Rule struct {
	Threshold int
	Window    time.Duration
	Severity  audit.AlertLevel
}

// DefaultRules is the built-in catalogue.
var DefaultRules = map[audit.AlertType]Rule{
	audit.AlertBruteForce:          {Threshold: 5, Window: 300 * time.Second, Severity: audit.LevelHigh},
	audit.AlertPrivilegeEscalation: {Threshold: 1, Severity: audit.LevelCritical},
	audit.AlertDataExfiltration:    {Threshold: 100, Window: 3600 * time.Second, Severity: audit.LevelHigh},
	audit.AlertSuspiciousLocation:  {Threshold: 1, Window: 30 * 24 * time.Hour, Severity: audit.LevelMedium},
	audit.AlertOffHoursAccess:      {Threshold: 1, Severity: audit.LevelLow},
}

// maxSourceEvents caps how many event IDs an alert references.
const maxSourceEvents = 50

// ruleBase carries the state shared by every detector.
type ruleBase struct {
	alertType audit.AlertType
	rule      Rule
	enabled   bool
	mu        sync.RWMutex
}

func (b *ruleBase) init(t audit.AlertType) {
	b.alertType = t
	b.rule = DefaultRules[t]
	b.enabled = true
}

// Type returns the pattern name.
func (b *ruleBase) Type() audit.AlertType {
	return b.alertType
}

// snapshot returns the current rule, or ok=false when disabled.
func (b *ruleBase) snapshot() (Rule, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rule, b.enabled
}

// Configure validates and applies overrides. Zero values keep the current
// setting.
func (b *ruleBase) Configure(cfg config.PatternConfig) error {
	if cfg.Threshold < 0 {
		return fmt.Errorf("%s: threshold must not be negative", b.alertType)
	}
	if cfg.WindowSeconds < 0 {
		return fmt.Errorf("%s: window_seconds must not be negative", b.alertType)
	}
	var severity audit.AlertLevel
	if cfg.Severity != "" {
		level, ok := audit.ParseLevel(cfg.Severity)
		if !ok {
			return fmt.Errorf("%s: unknown severity %q", b.alertType, cfg.Severity)
		}
		severity = level
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cfg.Enabled != nil {
		b.enabled = *cfg.Enabled
	}
	if cfg.Threshold > 0 {
		b.rule.Threshold = cfg.Threshold
	}
	if cfg.WindowSeconds > 0 {
		b.rule.Window = time.Duration(cfg.WindowSeconds) * time.Second
	}
	if severity != "" {
		b.rule.Severity = severity
	}
	return nil
}

// Enabled returns whether this detector is enabled.
func (b *ruleBase) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// SetEnabled enables or disables the detector.
func (b *ruleBase) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// Rule returns the current rule.
func (b *ruleBase) Rule() Rule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rule
}

func (b *ruleBase) candidate(rule Rule, event *audit.Event, description string, sources []string) *audit.Alert {
	return &audit.Alert{
		AlertType:    b.alertType,
		Severity:     rule.Severity,
		Description:  description,
		AffectedUser: event.UserID,
		SourceEvents: withTrigger(sources, event.EventID),
	}
}

// recentEvents lists the IDs of the events that made a windowed count cross
// its threshold.
func recentEvents(ctx context.Context, counter EventCounter, filter audit.CountFilter, n int) []string {
	if n > maxSourceEvents {
		n = maxSourceEvents
	}
	ids, err := counter.ListEventIDs(ctx, filter, n)
	if err != nil {
		// The trigger event alone still satisfies the alert invariant.
		return nil
	}
	return ids
}

// withTrigger puts the triggering event first and removes duplicates.
func withTrigger(ids []string, trigger string) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, trigger)
	for _, id := range ids {
		if id != trigger && id != "" {
			out = append(out, id)
		}
	}
	if len(out) > maxSourceEvents {
		out = out[:maxSourceEvents]
	}
	return out
}
