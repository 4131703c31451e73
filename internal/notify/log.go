// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

// Package notify delivers security alerts outside the engine: to the
// structured log, to an HTTP webhook, and onto a Watermill message bus.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
)

// LogNotifier writes alerts to the structured log. It always succeeds.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a notifier on the global logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logging.WithComponent("alerts")}
}

// NewLogNotifierWithLogger creates a notifier on a custom logger.
//
//nolint:gocritic // zerolog.Logger is passed by value by design of the library
func NewLogNotifierWithLogger(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Name returns the notifier name.
func (n *LogNotifier) Name() string {
	return "log"
}

// Send logs the alert at error level for CRITICAL and warn level otherwise.
func (n *LogNotifier) Send(ctx context.Context, alert *audit.Alert) (bool, error) {
	event := n.logger.Warn()
	if alert.Severity == audit.LevelCritical {
		event = n.logger.Error()
	}
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		event = event.Str("correlation_id", id)
	}
	event.
		Str("alert_id", alert.AlertID).
		Str("alert_type", string(alert.AlertType)).
		Str("severity", string(alert.Severity)).
		Str("affected_user", alert.AffectedUser).
		Strs("source_events", alert.SourceEvents).
		Msg(alert.Description)
	return true, nil
}
