// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

const eventColumns = `
	event_id, timestamp, category, event_type, user_id, user_role,
	source_ip, user_agent, resource, action, outcome, details,
	risk_score, alert_level, session_id,
	CAST(geolocation AS VARCHAR), CAST(system_info AS VARCHAR), encrypted`

const alertColumns = `
	alert_id, timestamp, alert_type, severity, description, affected_user,
	CAST(source_events AS VARCHAR), CAST(remediation_steps AS VARCHAR),
	auto_resolved, acknowledged_by, acknowledged_at`

// scannedEvent holds nullable columns before conversion.
type scannedEvent struct {
	event                                   Event
	category, outcome, level                string
	userRole, sourceIP, userAgent, resource sql.NullString
	action, details, sessionID, geo         sql.NullString
	systemInfo                              sql.NullString
}

func (d *scannedEvent) destinations() []interface{} {
	e := &d.event
	return []interface{}{
		&e.EventID, &e.Timestamp, &d.category, &e.EventType, &e.UserID, &d.userRole,
		&d.sourceIP, &d.userAgent, &d.resource, &d.action, &d.outcome, &d.details,
		&e.RiskScore, &d.level, &d.sessionID, &d.geo, &d.systemInfo, &e.Encrypted,
	}
}

// GetEvent returns one event. Sealed details are opened when key custody is
// available; otherwise Details is nil and SealedDetails is set. Integral
// numbers in Details decode as int64, other numbers as float64.
func (s *DuckDBStore) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, "SELECT"+eventColumns+" FROM audit_events WHERE event_id = ?", eventID)

	var d scannedEvent
	if err := row.Scan(d.destinations()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
		}
		return nil, NewStorageError("get_event", err)
	}
	return s.toEvent(&d)
}

func (s *DuckDBStore) toEvent(d *scannedEvent) (*Event, error) {
	e := d.event
	e.Timestamp = e.Timestamp.UTC()
	e.Category = Category(d.category)
	e.Outcome = Outcome(d.outcome)
	e.AlertLevel = AlertLevel(d.level)
	e.UserRole = d.userRole.String
	e.SourceIP = d.sourceIP.String
	e.UserAgent = d.userAgent.String
	e.Resource = d.resource.String
	e.Action = d.action.String
	e.SessionID = d.sessionID.String

	if d.geo.Valid {
		var geo Geolocation
		if err := json.Unmarshal([]byte(d.geo.String), &geo); err == nil {
			e.Geolocation = &geo
		}
	}
	if d.systemInfo.Valid {
		var info SystemInfo
		if err := json.Unmarshal([]byte(d.systemInfo.String), &info); err == nil {
			e.SystemInfo = &info
		}
	}

	if !d.details.Valid {
		return &e, nil
	}
	raw := []byte(d.details.String)
	if e.Encrypted {
		sealed, err := base64.StdEncoding.DecodeString(d.details.String)
		if err != nil {
			return nil, NewStorageError("get_event", fmt.Errorf("%w: corrupt sealed details: %v", ErrEncryption, err))
		}
		if s.custody == nil {
			e.SealedDetails = sealed
			return &e, nil
		}
		if raw, err = s.custody.Decrypt(sealed); err != nil {
			return nil, NewStorageError("get_event", fmt.Errorf("%w: %v", ErrEncryption, err))
		}
	}
	details, err := decodeDetails(raw)
	if err != nil {
		return nil, NewStorageError("get_event", fmt.Errorf("failed to decode details: %w", err))
	}
	e.Details = details
	return &e, nil
}

// decodeDetails decodes a details document. Integral numbers come back as
// int64 and all other numbers as float64.
func decodeDetails(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var details map[string]interface{}
	if err := dec.Decode(&details); err != nil {
		return nil, err
	}
	for k, v := range details {
		details[k] = normalizeNumbers(v)
	}
	return details, nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		for k, item := range t {
			t[k] = normalizeNumbers(item)
		}
	case []interface{}:
		for i, item := range t {
			t[i] = normalizeNumbers(item)
		}
	}
	return v
}

// GetAlert returns one alert.
func (s *DuckDBStore) GetAlert(ctx context.Context, alertID string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, "SELECT"+alertColumns+" FROM security_alerts WHERE alert_id = ?", alertID)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
		}
		return nil, NewStorageError("get_alert", err)
	}
	return alert, nil
}

// ListAlerts returns alerts matching filter, newest first.
func (s *DuckDBStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error) {
	var conditions []string
	var args []interface{}

	conditions, args = appendStringCondition(conditions, args, "alert_type", string(filter.AlertType))
	conditions, args = appendStringCondition(conditions, args, "severity", string(filter.Severity))
	conditions, args = appendStringCondition(conditions, args, "affected_user", filter.AffectedUser)
	if filter.Acknowledged != nil {
		if *filter.Acknowledged {
			conditions = append(conditions, "acknowledged_at IS NOT NULL")
		} else {
			conditions = append(conditions, "acknowledged_at IS NULL")
		}
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, filter.Until)
	}

	query := "SELECT" + alertColumns + " FROM security_alerts"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC, alert_id"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError("list_alerts", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to scan security alert row")
			continue
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("list_alerts", err)
	}
	return alerts, nil
}

func scanAlert(row scanner) (*Alert, error) {
	var (
		a                         Alert
		alertType, severity       string
		sourceEvents, remediation string
		ackBy                     sql.NullString
		ackAt                     sql.NullTime
	)
	err := row.Scan(&a.AlertID, &a.Timestamp, &alertType, &severity, &a.Description,
		&a.AffectedUser, &sourceEvents, &remediation, &a.AutoResolved, &ackBy, &ackAt)
	if err != nil {
		return nil, err
	}

	a.Timestamp = a.Timestamp.UTC()
	a.AlertType = AlertType(alertType)
	a.Severity = AlertLevel(severity)
	a.AcknowledgedBy = ackBy.String
	if ackAt.Valid {
		t := ackAt.Time.UTC()
		a.AcknowledgedAt = &t
	}
	if err := json.Unmarshal([]byte(sourceEvents), &a.SourceEvents); err != nil {
		return nil, fmt.Errorf("failed to decode source_events: %w", err)
	}
	if err := json.Unmarshal([]byte(remediation), &a.RemediationSteps); err != nil {
		return nil, fmt.Errorf("failed to decode remediation_steps: %w", err)
	}
	a.Stored = true
	return &a, nil
}

// QueryDashboard computes each dashboard section concurrently. A failing
// section is reported in FailedSections and leaves its zero value.
func (s *DuckDBStore) QueryDashboard(ctx context.Context, q DashboardQuery) (*Dashboard, error) {
	if q.TopN <= 0 {
		q.TopN = 10
	}
	q.Since = ceilMicrosecond(q.Since)
	q.Until = ceilMicrosecond(q.Until)
	d := &Dashboard{
		EventsByCategory: map[string]int64{},
		RiskDistribution: map[string]int64{},
		TopUsers:         []Activity{},
		TopIPs:           []Activity{},
		GeneratedAt:      time.Now().UTC(),
		RangeHours:       int(q.Until.Sub(q.Since).Round(time.Hour) / time.Hour),
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	section := func(name string, fn func() error) func() error {
		return func() error {
			if err := fn(); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("section", name).Msg("Dashboard section failed")
				mu.Lock()
				failed = append(failed, name)
				mu.Unlock()
			}
			return nil
		}
	}

	var g errgroup.Group
	g.SetLimit(3)
	g.Go(section(SectionTotal, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM audit_events WHERE timestamp >= ? AND timestamp < ?`,
			q.Since, q.Until).Scan(&d.TotalEvents)
	}))
	g.Go(section(SectionCategories, func() error {
		counts, err := s.countByColumn(ctx, "category", q)
		d.EventsByCategory = counts
		return err
	}))
	g.Go(section(SectionRisk, func() error {
		counts, err := s.countByColumn(ctx, "alert_level", q)
		d.RiskDistribution = counts
		return err
	}))
	g.Go(section(SectionTopUsers, func() error {
		top, err := s.topBy(ctx, "user_id", q)
		d.TopUsers = top
		return err
	}))
	g.Go(section(SectionTopIPs, func() error {
		top, err := s.topBy(ctx, "source_ip", q)
		d.TopIPs = top
		return err
	}))
	g.Go(section(SectionAlerts, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM security_alerts
			WHERE acknowledged_at IS NULL AND NOT auto_resolved
			  AND timestamp >= ? AND timestamp < ?`,
			q.Since, q.Until).Scan(&d.ActiveAlerts)
	}))
	_ = g.Wait()

	if len(failed) == 6 {
		return nil, fmt.Errorf("%w: all sections failed", ErrDashboardUnavailable)
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		d.Partial = true
		d.FailedSections = failed
	}
	return d, nil
}

// countByColumn groups events in range by column. column is never user input.
func (s *DuckDBStore) countByColumn(ctx context.Context, column string, q DashboardQuery) (map[string]int64, error) {
	result := make(map[string]int64)
	query := fmt.Sprintf(`SELECT %s, COUNT(*) FROM audit_events
		WHERE timestamp >= ? AND timestamp < ? GROUP BY %s`, column, column)
	rows, err := s.db.QueryContext(ctx, query, q.Since, q.Until)
	if err != nil {
		return result, fmt.Errorf("failed to count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return result, fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		result[key] = count
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("error iterating %s counts: %w", column, err)
	}
	return result, nil
}

// topBy ranks non-empty values of column by event count.
func (s *DuckDBStore) topBy(ctx context.Context, column string, q DashboardQuery) ([]Activity, error) {
	query := fmt.Sprintf(`SELECT %s, COUNT(*) AS n FROM audit_events
		WHERE timestamp >= ? AND timestamp < ? AND %s IS NOT NULL AND %s <> ''
		GROUP BY %s ORDER BY n DESC, %s LIMIT ?`, column, column, column, column, column)
	rows, err := s.db.QueryContext(ctx, query, q.Since, q.Until, q.TopN)
	if err != nil {
		return []Activity{}, fmt.Errorf("failed to rank %s: %w", column, err)
	}
	defer rows.Close()

	top := []Activity{}
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.Key, &a.Count); err != nil {
			return []Activity{}, fmt.Errorf("failed to scan %s ranking: %w", column, err)
		}
		top = append(top, a)
	}
	return top, rows.Err()
}

// ceilMicrosecond rounds t up to the TIMESTAMPTZ resolution. The driver
// truncates sub-microsecond bounds, which would pull an exclusive upper bound
// down onto an event stored at exactly that microsecond.
func ceilMicrosecond(t time.Time) time.Time {
	if c := t.Truncate(time.Microsecond); !c.Equal(t) {
		return c.Add(time.Microsecond)
	}
	return t
}
