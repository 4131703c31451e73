// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package engine

import (
	"context"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/metrics"
)

// snapshotHours is the range covered by the maintenance dashboard snapshot.
const snapshotHours = 24

func (e *Engine) runMaintenance(ctx context.Context) {
	cleanup := time.NewTicker(e.cfg.CleanupInterval)
	defer cleanup.Stop()
	snapshot := time.NewTicker(e.cfg.SnapshotInterval)
	defer snapshot.Stop()

	if err := e.RefreshSnapshot(ctx); err != nil {
		logging.Warn().Err(err).Msg("Initial dashboard snapshot failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			if _, err := e.RunRetention(ctx); err != nil {
				logging.Error().Err(err).Msg("Retention sweep failed")
			}
			e.sweepCaches()
		case <-snapshot.C:
			if err := e.RefreshSnapshot(ctx); err != nil {
				logging.Warn().Err(err).Msg("Dashboard snapshot failed")
			}
		}
	}
}

// RunRetention deletes events older than the retention period and returns
// how many were removed. Running it again with no new events removes nothing.
func (e *Engine) RunRetention(ctx context.Context) (int64, error) {
	cutoff := e.now().Add(-time.Duration(e.cfg.RetentionDays) * 24 * time.Hour)

	deleted, err := e.store.DeleteEventsOlderThan(ctx, cutoff)
	metrics.RecordMaintenance("retention", err)
	if err != nil {
		return 0, err
	}
	metrics.RetentionDeleted.Add(float64(deleted))

	logging.Info().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Int("retention_days", e.cfg.RetentionDays).
		Msg("Retention sweep complete")
	return deleted, nil
}

// RefreshSnapshot recomputes the stored dashboard used when live queries fail.
// A failed refresh keeps the previous snapshot.
func (e *Engine) RefreshSnapshot(ctx context.Context) error {
	d, err := e.queryDashboard(ctx, snapshotHours)
	metrics.RecordMaintenance("dashboard_snapshot", err)
	if err != nil {
		return err
	}

	e.snapMu.Lock()
	e.snapshot = d
	e.snapMu.Unlock()

	metrics.DashboardLastSnapshot.Set(float64(d.GeneratedAt.Unix()))
	logging.Debug().
		Int64("total_events", d.TotalEvents).
		Int64("active_alerts", d.ActiveAlerts).
		Bool("partial", d.Partial).
		Msg("Dashboard snapshot refreshed")
	return nil
}

// sweepCaches evicts expired entries from the in-memory TTL caches.
func (e *Engine) sweepCaches() int {
	removed := e.scorer.Sweep() + e.matcher.Sweep()
	if e.enricher != nil {
		removed += e.enricher.Sweep()
	}
	if removed > 0 {
		logging.Debug().Int("removed", removed).Msg("Expired cache entries swept")
	}
	return removed
}
