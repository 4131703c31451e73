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

	"github.com/google/uuid"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/cache"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/config"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/metrics"
)

// Config configures a Matcher.
type Config struct {
	// Patterns holds per-pattern overrides keyed by pattern name.
	Patterns map[string]config.PatternConfig

	// SuppressionWindow drops repeat alerts of the same type for the same
	// user inside the window. Zero disables suppression.
	SuppressionWindow time.Duration

	BusinessHours BusinessHours

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Matcher runs every registered detector against an event.
type Matcher struct {
	mu        sync.RWMutex
	detectors []Detector

	suppressed *cache.TTL[struct{}]
	now        func() time.Time
	newID      func() string
}

// NewMatcher registers the full catalogue and applies cfg overrides.
func NewMatcher(counter EventCounter, cfg Config) (*Matcher, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	m := &Matcher{now: cfg.Now, newID: cfg.NewID}
	if cfg.SuppressionWindow > 0 {
		m.suppressed = cache.NewWithClock[struct{}](cfg.SuppressionWindow, cfg.Now)
	}

	m.Register(NewBruteForceDetector(counter))
	m.Register(NewPrivilegeEscalationDetector())
	m.Register(NewDataExfiltrationDetector(counter))
	m.Register(NewSuspiciousLocationDetector(counter))
	m.Register(NewOffHoursDetector(cfg.BusinessHours))

	for name, override := range cfg.Patterns {
		d := m.Detector(audit.AlertType(name))
		if d == nil {
			return nil, fmt.Errorf("unknown pattern %q", name)
		}
		if err := d.Configure(override); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register adds a detector, replacing any detector of the same type.
func (m *Matcher) Register(d Detector) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.detectors {
		if existing.Type() == d.Type() {
			m.detectors[i] = d
			return
		}
	}
	m.detectors = append(m.detectors, d)
	logging.Debug().Str("pattern", string(d.Type())).Msg("Registered detector")
}

// Detector returns the detector for t, or nil.
func (m *Matcher) Detector(t audit.AlertType) Detector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.detectors {
		if d.Type() == t {
			return d
		}
	}
	return nil
}

// Detectors returns the registered detectors in evaluation order.
func (m *Matcher) Detectors() []Detector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Detector, len(m.detectors))
	copy(out, m.detectors)
	return out
}

// Evaluate runs each enabled detector independently. Failed detectors are
// reported as *audit.PatternError values and never stop the remaining ones.
func (m *Matcher) Evaluate(ctx context.Context, event *audit.Event) ([]*audit.Alert, []error) {
	var alerts []*audit.Alert
	var errs []error

	for _, d := range m.Detectors() {
		if !d.Enabled() {
			continue
		}
		candidate, err := runDetector(ctx, d, event)
		if err != nil {
			metrics.PatternErrors.WithLabelValues(string(d.Type())).Inc()
			logging.Ctx(ctx).Warn().Err(err).
				Str("pattern", string(d.Type())).
				Str("event_id", event.EventID).
				Str("user_id", event.UserID).
				Msg("Threat pattern evaluation failed, skipping")
			errs = append(errs, err)
			continue
		}
		if candidate == nil {
			continue
		}
		if m.suppress(candidate) {
			metrics.AlertsSuppressed.WithLabelValues(string(candidate.AlertType)).Inc()
			logging.Ctx(ctx).Debug().
				Str("pattern", string(candidate.AlertType)).
				Str("user_id", candidate.AffectedUser).
				Msg("Repeat alert suppressed")
			continue
		}

		m.complete(candidate, event)
		metrics.AlertsGenerated.WithLabelValues(string(candidate.AlertType), string(candidate.Severity)).Inc()
		alerts = append(alerts, candidate)
	}
	return alerts, errs
}

// runDetector turns errors and panics into *audit.PatternError.
func runDetector(ctx context.Context, d Detector, event *audit.Event) (alert *audit.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			alert = nil
			err = &audit.PatternError{Pattern: d.Type(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	alert, err = d.Check(ctx, event)
	if err != nil {
		return nil, &audit.PatternError{Pattern: d.Type(), Err: err}
	}
	return alert, nil
}

// Sweep drops expired suppression entries and returns how many were removed.
func (m *Matcher) Sweep() int {
	if m.suppressed == nil {
		return 0
	}
	return m.suppressed.Sweep()
}

func (m *Matcher) suppress(alert *audit.Alert) bool {
	if m.suppressed == nil {
		return false
	}
	key := string(alert.AlertType) + "|" + alert.AffectedUser
	return !m.suppressed.SetIfAbsent(key, struct{}{})
}

func (m *Matcher) complete(alert *audit.Alert, event *audit.Event) {
	alert.AlertID = m.newID()
	alert.Timestamp = m.now()
	if alert.AffectedUser == "" {
		alert.AffectedUser = event.UserID
	}
	if len(alert.SourceEvents) == 0 {
		alert.SourceEvents = []string{event.EventID}
	}
	alert.RemediationSteps = RemediationSteps(alert.AlertType)
}
