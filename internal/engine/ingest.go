// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/enrich"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/metrics"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/validation"
)

// Input is one observed platform action as reported by a caller.
type Input struct {
	Category  audit.Category `json:"category" validate:"required,oneof=Authentication Authorization SystemAccess DataAccess Configuration Security Network Error Performance"`
	EventType string         `json:"event_type" validate:"notblank,max=128"`
	UserID    string         `json:"user_id" validate:"notblank,max=256"`
	UserRole  string         `json:"user_role,omitempty" validate:"max=64"`
	SourceIP  string         `json:"source_ip,omitempty" validate:"max=64"`
	UserAgent string         `json:"user_agent,omitempty" validate:"max=512"`
	Resource  string         `json:"resource,omitempty" validate:"max=512"`
	Action    string         `json:"action,omitempty" validate:"max=128"`
	Outcome   audit.Outcome  `json:"outcome" validate:"required,oneof=SUCCESS FAILURE ERROR"`
	SessionID string         `json:"session_id,omitempty" validate:"max=128"`

	Details map[string]interface{} `json:"details,omitempty"`

	// Timestamp defaults to the engine clock. Set it when replaying events
	// observed earlier.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// LogEvent validates in, scores and enriches it, and queues it for
// persistence and pattern matching. It returns the new event ID as soon as
// the event is queued. Only validation, shutdown and ctx cancellation while
// waiting for queue space are reported as errors.
func (e *Engine) LogEvent(ctx context.Context, in Input) (string, error) {
	if err := validation.ValidateStruct(in); err != nil {
		metrics.EventsRejected.Inc()
		return "", toValidationError(err)
	}

	e.mu.RLock()
	if e.stopped {
		e.mu.RUnlock()
		return "", ErrEngineStopped
	}
	e.senders.Add(1)
	e.mu.RUnlock()
	defer e.senders.Done()

	event := e.buildEvent(in)
	if e.enricher != nil {
		e.enricher.Enrich(ctx, event)
	}
	scored := e.scorer.Score(ctx, event)
	event.RiskScore = scored.Score
	event.AlertLevel = scored.Level

	item := eventItem{event: event, correlationID: logging.CorrelationIDFromContext(ctx)}
	select {
	case e.ingest <- item:
	case <-e.closing:
		return "", ErrEngineStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}

	e.stats.ingested.Add(1)
	metrics.EventsIngested.WithLabelValues(string(event.Category)).Inc()
	metrics.QueueDepth.WithLabelValues(QueueEvents).Set(float64(len(e.ingest)))

	logging.Ctx(ctx).Debug().
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Str("user_id", event.UserID).
		Int("risk_score", event.RiskScore).
		Str("alert_level", string(event.AlertLevel)).
		Msg("Audit event queued")
	return event.EventID, nil
}

func (e *Engine) buildEvent(in Input) *audit.Event {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	event := &audit.Event{
		Timestamp: ts,
		Category:  in.Category,
		EventType: in.EventType,
		UserID:    in.UserID,
		UserRole:  in.UserRole,
		SourceIP:  enrich.NormalizeIP(in.SourceIP),
		UserAgent: in.UserAgent,
		Resource:  in.Resource,
		Action:    in.Action,
		Outcome:   in.Outcome,
		Details:   copyDetails(in.Details),
		SessionID: in.SessionID,
	}
	event.EventID = newEventID(event)
	return event
}

// newEventID hashes the timestamp, user and type with a random nonce.
func newEventID(event *audit.Event) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(event.Timestamp.UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(event.UserID))
	h.Write([]byte{0})
	h.Write([]byte(event.EventType))
	h.Write([]byte{0})
	nonce := uuid.New()
	h.Write(nonce[:])
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func copyDetails(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func toValidationError(err error) *audit.ValidationError {
	ve := &audit.ValidationError{Message: err.Error(), Err: err}
	var reqErr *validation.RequestValidationError
	if errors.As(err, &reqErr) {
		for _, f := range reqErr.Fields {
			ve.Fields = append(ve.Fields, f.Field)
		}
	}
	return ve
}
