// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
)

// MaxDashboardHours bounds the dashboard time range.
const MaxDashboardHours = 24 * 90

// GetSecurityDashboard aggregates the last hours of activity. Sections that
// fail are listed in the result. When every section fails, the last
// maintenance snapshot is returned marked stale; ErrDashboardUnavailable is
// returned only if there is no snapshot either.
func (e *Engine) GetSecurityDashboard(ctx context.Context, hours int) (*audit.Dashboard, error) {
	if hours <= 0 || hours > MaxDashboardHours {
		return nil, &audit.ValidationError{
			Fields:  []string{"time_range_hours"},
			Message: fmt.Sprintf("time_range_hours must be between 1 and %d", MaxDashboardHours),
		}
	}

	d, err := e.queryDashboard(ctx, hours)
	if err == nil {
		return d, nil
	}

	e.snapMu.RLock()
	snap := e.snapshot
	e.snapMu.RUnlock()
	if snap == nil {
		return nil, err
	}

	logging.Ctx(ctx).Warn().Err(err).
		Time("snapshot_at", snap.GeneratedAt).
		Msg("Live dashboard unavailable, serving snapshot")
	stale := *snap
	stale.Stale = true
	return &stale, nil
}

func (e *Engine) queryDashboard(ctx context.Context, hours int) (*audit.Dashboard, error) {
	until := e.now()
	d, err := e.store.QueryDashboard(ctx, audit.DashboardQuery{
		Since: until.Add(-time.Duration(hours) * time.Hour),
		Until: until.Add(time.Microsecond),
	})
	if err != nil {
		if !errors.Is(err, audit.ErrDashboardUnavailable) {
			err = fmt.Errorf("%w: %v", audit.ErrDashboardUnavailable, err)
		}
		return nil, err
	}
	d.RangeHours = hours
	return d, nil
}

// AcknowledgeAlert records that by has handled the alert. An alert can be
// acknowledged once.
func (e *Engine) AcknowledgeAlert(ctx context.Context, alertID, by string) error {
	by = strings.TrimSpace(by)
	if by == "" {
		return &audit.ValidationError{Fields: []string{"acknowledged_by"}, Message: "acknowledged_by is required"}
	}
	if err := e.store.AcknowledgeAlert(ctx, alertID, by, e.now()); err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Str("alert_id", alertID).Str("acknowledged_by", by).Msg("Alert acknowledged")
	return nil
}

// ListAlerts returns stored alerts matching filter, newest first.
func (e *Engine) ListAlerts(ctx context.Context, filter audit.AlertFilter) ([]audit.Alert, error) {
	return e.store.ListAlerts(ctx, filter)
}

// GetAlert returns one stored alert.
func (e *Engine) GetAlert(ctx context.Context, alertID string) (*audit.Alert, error) {
	return e.store.GetAlert(ctx, alertID)
}

// GetEvent returns one stored event with its details opened when possible.
func (e *Engine) GetEvent(ctx context.Context, eventID string) (*audit.Event, error) {
	return e.store.GetEvent(ctx, eventID)
}
