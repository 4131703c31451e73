// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package audit

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
)

// EncryptionPolicy decides which event details are sealed at rest.
type EncryptionPolicy struct {
	EncryptHighSeverity    bool
	AllowPlaintextFallback bool
}

// DuckDBStore implements Store on DuckDB through database/sql.
type DuckDBStore struct {
	db      *sql.DB
	custody KeyCustody
	policy  EncryptionPolicy

	// writeMu serialises writers; reads go straight to the pool.
	writeMu sync.Mutex
}

// StoreOption configures a DuckDBStore.
type StoreOption func(*DuckDBStore)

// WithKeyCustody sets the collaborator used to seal details.
func WithKeyCustody(kc KeyCustody) StoreOption {
	return func(s *DuckDBStore) { s.custody = kc }
}

// WithEncryptionPolicy sets the at-rest encryption policy.
func WithEncryptionPolicy(p EncryptionPolicy) StoreOption {
	return func(s *DuckDBStore) { s.policy = p }
}

// NewDuckDBStore wraps db. Call CreateSchema before first use.
func NewDuckDBStore(db *sql.DB, opts ...StoreOption) *DuckDBStore {
	s := &DuckDBStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		event_id TEXT PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		category TEXT NOT NULL,
		event_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_role TEXT,
		source_ip TEXT,
		user_agent TEXT,
		resource TEXT,
		action TEXT,
		outcome TEXT NOT NULL,
		details TEXT,
		risk_score INTEGER NOT NULL CHECK (risk_score BETWEEN 0 AND 100),
		alert_level TEXT NOT NULL,
		session_id TEXT,
		geolocation JSON,
		system_info JSON,
		encrypted BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON audit_events(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_events_user_id ON audit_events(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_source_ip ON audit_events(source_ip)`,
	`CREATE INDEX IF NOT EXISTS idx_events_event_type ON audit_events(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_events_risk_score ON audit_events(risk_score)`,
	`CREATE TABLE IF NOT EXISTS security_alerts (
		alert_id TEXT PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		description TEXT NOT NULL,
		affected_user TEXT NOT NULL,
		source_events JSON NOT NULL,
		remediation_steps JSON NOT NULL,
		auto_resolved BOOLEAN NOT NULL DEFAULT FALSE,
		acknowledged_by TEXT,
		acknowledged_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON security_alerts(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_affected_user ON security_alerts(affected_user)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_alert_type ON security_alerts(alert_type)`,
}

// CreateSchema creates the tables and indices if they do not exist.
func (s *DuckDBStore) CreateSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	logging.Info().Msg("Audit schema created/verified")
	return nil
}

// InsertEvent persists event. Details of HIGH and CRITICAL events are sealed
// when the policy asks for it.
func (s *DuckDBStore) InsertEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return NewStorageError("insert_event", errors.New("event cannot be nil"))
	}

	details, encrypted, err := s.encodeDetails(event)
	if err != nil {
		return NewStorageError("insert_event", err)
	}

	query := `
		INSERT INTO audit_events (
			event_id, timestamp, category, event_type, user_id, user_role,
			source_ip, user_agent, resource, action, outcome, details,
			risk_score, alert_level, session_id, geolocation, system_info, encrypted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, query,
		event.EventID, event.Timestamp, string(event.Category), event.EventType,
		event.UserID, event.UserRole, event.SourceIP, event.UserAgent,
		event.Resource, event.Action, string(event.Outcome), details,
		event.RiskScore, string(event.AlertLevel), event.SessionID,
		marshalOptional(event.Geolocation), marshalOptional(event.SystemInfo), encrypted,
	)
	if err != nil {
		return NewStorageError("insert_event", err)
	}
	event.Encrypted = encrypted
	return nil
}

// encodeDetails returns the column value for details and whether it is sealed.
func (s *DuckDBStore) encodeDetails(event *Event) (*string, bool, error) {
	if len(event.Details) == 0 {
		return nil, false, nil
	}
	plain, err := json.Marshal(event.Details)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal details: %w", err)
	}

	if !s.policy.EncryptHighSeverity || !event.AlertLevel.AtLeast(LevelHigh) {
		text := string(plain)
		return &text, false, nil
	}

	sealed, err := s.seal(plain)
	if err != nil {
		if !s.policy.AllowPlaintextFallback {
			return nil, false, fmt.Errorf("%w: %v", ErrEncryption, err)
		}
		logging.Warn().Err(err).Str("event_id", event.EventID).
			Msg("Encryption failed, storing details in plaintext as permitted by policy")
		text := string(plain)
		return &text, false, nil
	}
	return &sealed, true, nil
}

func (s *DuckDBStore) seal(plain []byte) (string, error) {
	if s.custody == nil {
		return "", errors.New("no key custody configured")
	}
	ciphertext, err := s.custody.Encrypt(plain)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func marshalOptional(v interface{}) *string {
	switch t := v.(type) {
	case *Geolocation:
		if t == nil {
			return nil
		}
	case *SystemInfo:
		if t == nil {
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	text := string(data)
	return &text
}

// InsertAlert persists alert.
func (s *DuckDBStore) InsertAlert(ctx context.Context, alert *Alert) error {
	if alert == nil {
		return NewStorageError("insert_alert", errors.New("alert cannot be nil"))
	}
	if len(alert.SourceEvents) == 0 {
		return NewStorageError("insert_alert", errors.New("alert must reference at least one event"))
	}

	sourceEvents, err := json.Marshal(alert.SourceEvents)
	if err != nil {
		return NewStorageError("insert_alert", err)
	}
	steps := alert.RemediationSteps
	if steps == nil {
		steps = []string{}
	}
	remediation, err := json.Marshal(steps)
	if err != nil {
		return NewStorageError("insert_alert", err)
	}

	query := `
		INSERT INTO security_alerts (
			alert_id, timestamp, alert_type, severity, description, affected_user,
			source_events, remediation_steps, auto_resolved, acknowledged_by, acknowledged_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var ackBy *string
	if alert.AcknowledgedBy != "" {
		ackBy = &alert.AcknowledgedBy
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, query,
		alert.AlertID, alert.Timestamp, string(alert.AlertType), string(alert.Severity),
		alert.Description, alert.AffectedUser, string(sourceEvents), string(remediation),
		alert.AutoResolved, ackBy, alert.AcknowledgedAt,
	)
	if err != nil {
		return NewStorageError("insert_alert", err)
	}
	alert.Stored = true
	return nil
}

// CountEvents implements Store.
func (s *DuckDBStore) CountEvents(ctx context.Context, filter CountFilter) (int64, error) {
	conditions, args := buildCountConditions(filter)
	query := "SELECT COUNT(*) FROM audit_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, NewStorageError("count_events", err)
	}
	return count, nil
}

// ListEventIDs implements Store.
func (s *DuckDBStore) ListEventIDs(ctx context.Context, filter CountFilter, limit int) ([]string, error) {
	conditions, args := buildCountConditions(filter)
	query := "SELECT event_id FROM audit_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY timestamp DESC, event_id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError("list_event_ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, NewStorageError("list_event_ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("list_event_ids", err)
	}
	return ids, nil
}

func buildCountConditions(filter CountFilter) ([]string, []interface{}) {
	var conditions []string
	var args []interface{}

	conditions, args = appendStringCondition(conditions, args, "user_id", filter.UserID)
	conditions, args = appendStringCondition(conditions, args, "source_ip", filter.SourceIP)
	conditions, args = appendStringCondition(conditions, args, "outcome", string(filter.Outcome))

	if cond := buildSliceCondition("event_type", filter.EventTypes, &args); cond != "" {
		conditions = append(conditions, cond)
	}
	if filter.EventTypeContains != "" {
		conditions = append(conditions, "contains(event_type, ?)")
		args = append(args, filter.EventTypeContains)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, filter.Until)
	}
	if filter.ExcludeEventID != "" {
		conditions = append(conditions, "event_id <> ?")
		args = append(args, filter.ExcludeEventID)
	}
	return conditions, args
}

func appendStringCondition(conditions []string, args []interface{}, column, value string) ([]string, []interface{}) {
	if value == "" {
		return conditions, args
	}
	return append(conditions, column+" = ?"), append(args, value)
}

func buildSliceCondition[T ~string](column string, values []T, args *[]interface{}) string {
	if len(values) == 0 {
		return ""
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		*args = append(*args, string(v))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}

// DeleteEventsOlderThan implements Store. Alerts are never deleted.
func (s *DuckDBStore) DeleteEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, NewStorageError("delete_events", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, NewStorageError("delete_events", err)
	}
	if count > 0 {
		logging.Info().Int64("deleted", count).Time("older_than", cutoff).Msg("Deleted expired audit events")
	}
	return count, nil
}

// AcknowledgeAlert records who acknowledged an alert. It fails with
// ErrAlreadyAcknowledged on a second call.
func (s *DuckDBStore) AcknowledgeAlert(ctx context.Context, alertID, by string, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE security_alerts SET acknowledged_by = ?, acknowledged_at = ?
		WHERE alert_id = ? AND acknowledged_at IS NULL`, by, at, alertID)
	if err != nil {
		return NewStorageError("acknowledge_alert", err)
	}
	return s.checkAlertUpdate(ctx, result, alertID, ErrAlreadyAcknowledged)
}

// MarkAutoResolved flags an alert as resolved by automated response.
func (s *DuckDBStore) MarkAutoResolved(ctx context.Context, alertID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE security_alerts SET auto_resolved = TRUE WHERE alert_id = ?`, alertID)
	if err != nil {
		return NewStorageError("mark_auto_resolved", err)
	}
	return s.checkAlertUpdate(ctx, result, alertID, nil)
}

// checkAlertUpdate maps zero affected rows to ErrNotFound or conflict.
// Must be called with writeMu held.
func (s *DuckDBStore) checkAlertUpdate(ctx context.Context, result sql.Result, alertID string, conflict error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return NewStorageError("update_alert", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM security_alerts WHERE alert_id = ?`, alertID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
	}
	if err != nil {
		return NewStorageError("update_alert", err)
	}
	if conflict != nil {
		return fmt.Errorf("alert %s: %w", alertID, conflict)
	}
	return nil
}
