// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/deadletter"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/metrics"
)

// maxRetryBackoff caps the delay between store attempts.
const maxRetryBackoff = 5 * time.Second

// RunWithContext runs the event processor, the alert processor and the
// maintenance job until ctx is cancelled. It then stops LogEvent, drains both
// queues and returns. It can be called once per Engine.
func (e *Engine) RunWithContext(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	logging.Info().
		Int("ingest_queue_size", cap(e.ingest)).
		Int("alert_queue_size", cap(e.alerts)).
		Int("store_max_retries", e.cfg.StoreMaxRetries).
		Msg("Audit engine started")

	// Store writes during the drain must outlive ctx.
	work := context.WithoutCancel(ctx)
	eventsDone := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer close(eventsDone)
		e.runEventProcessor(ctx, work)
	}()
	go func() {
		defer wg.Done()
		e.runAlertProcessor(ctx, work, eventsDone)
	}()
	go func() {
		defer wg.Done()
		e.runMaintenance(ctx)
	}()
	wg.Wait()

	stats := e.Stats()
	logging.Info().
		Int64("ingested", stats.Ingested).
		Int64("persisted", stats.Persisted).
		Int64("alerts_stored", stats.AlertsStored).
		Int64("dropped", stats.TotalDropped()).
		Msg("Audit engine stopped")
	return nil
}

// beginShutdown rejects further LogEvent calls, waits for in-flight ones to
// finish enqueueing, and returns the drain deadline. It is idempotent.
func (e *Engine) beginShutdown() time.Time {
	e.mu.Lock()
	if !e.stopped {
		e.stopped = true
		e.drainBy = time.Now().Add(e.cfg.DrainTimeout)
		close(e.closing)
	}
	deadline := e.drainBy
	e.mu.Unlock()

	e.senders.Wait()
	return deadline
}

func (e *Engine) runEventProcessor(ctx, work context.Context) {
	idle := time.NewTicker(e.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case item := <-e.ingest:
			e.handleEvent(work, item)
		case <-idle.C:
			metrics.QueueDepth.WithLabelValues(QueueEvents).Set(float64(len(e.ingest)))
		case <-ctx.Done():
			e.drainEvents(work, e.beginShutdown())
			return
		}
	}
}

func (e *Engine) drainEvents(work context.Context, deadline time.Time) {
	pending := len(e.ingest)
	if pending > 0 {
		logging.Info().Int("pending", pending).Msg("Draining event queue")
	}
	for {
		select {
		case item := <-e.ingest:
			if time.Now().After(deadline) {
				e.abandon(work, QueueEvents, item.event.EventID, item.event)
				continue
			}
			e.handleEvent(work, item)
		default:
			metrics.QueueDepth.WithLabelValues(QueueEvents).Set(0)
			return
		}
	}
}

func (e *Engine) runAlertProcessor(ctx, work context.Context, eventsDone <-chan struct{}) {
	idle := time.NewTicker(e.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case item := <-e.alerts:
			e.handleAlert(work, item)
		case <-idle.C:
			metrics.QueueDepth.WithLabelValues(QueueAlerts).Set(float64(len(e.alerts)))
		case <-ctx.Done():
			e.drainAlerts(work, e.beginShutdown(), eventsDone)
			return
		}
	}
}

// drainAlerts keeps consuming until the event processor has finished its own
// drain, since draining events can still produce alerts.
func (e *Engine) drainAlerts(work context.Context, deadline time.Time, eventsDone <-chan struct{}) {
	process := func(item alertItem) {
		if time.Now().After(deadline) {
			e.abandon(work, QueueAlerts, item.alert.AlertID, item.alert)
			return
		}
		e.handleAlert(work, item)
	}

	for {
		select {
		case item := <-e.alerts:
			process(item)
		case <-eventsDone:
			for {
				select {
				case item := <-e.alerts:
					process(item)
				default:
					metrics.QueueDepth.WithLabelValues(QueueAlerts).Set(0)
					return
				}
			}
		}
	}
}

// handleEvent persists one event, then runs the matcher and queues any
// alerts. Matching never starts for an event that was not stored.
func (e *Engine) handleEvent(ctx context.Context, item eventItem) {
	event := item.event
	if item.correlationID != "" {
		ctx = logging.ContextWithCorrelationID(ctx, item.correlationID)
	}
	defer e.recoverItem(ctx, QueueEvents, event.EventID)

	attempts, err := e.withRetry(ctx, "insert_event", event.EventID, func(ctx context.Context) error {
		return e.store.InsertEvent(ctx, event)
	})
	if err != nil {
		e.drop(ctx, QueueEvents, event.EventID, deadletter.ReasonRetriesExhausted, attempts, err, event)
		return
	}
	e.stats.persisted.Add(1)
	metrics.ItemsProcessed.WithLabelValues(QueueEvents).Inc()

	alerts, _ := e.matcher.Evaluate(ctx, event)
	for _, alert := range alerts {
		logging.Ctx(ctx).Info().
			Str("alert_id", alert.AlertID).
			Str("alert_type", string(alert.AlertType)).
			Str("severity", string(alert.Severity)).
			Str("user_id", alert.AffectedUser).
			Str("event_id", event.EventID).
			Msg("Threat pattern matched")
		e.enqueueAlert(ctx, alertItem{alert: alert, correlationID: item.correlationID})
	}
}

// enqueueAlert hands an alert to the alert processor. When the queue is full
// it logs and counts the stall, then blocks until there is room.
func (e *Engine) enqueueAlert(ctx context.Context, item alertItem) {
	select {
	case e.alerts <- item:
	default:
		metrics.QueueFull.WithLabelValues(QueueAlerts).Inc()
		logging.Ctx(ctx).Warn().
			Str("alert_id", item.alert.AlertID).
			Int("capacity", cap(e.alerts)).
			Msg("Alert queue full, event processing paused")
		e.alerts <- item
	}
	metrics.QueueDepth.WithLabelValues(QueueAlerts).Set(float64(len(e.alerts)))
}

// handleAlert persists one alert, forwards it to the bus and, for HIGH and
// CRITICAL severities, to every notifier.
func (e *Engine) handleAlert(ctx context.Context, item alertItem) {
	alert := item.alert
	if item.correlationID != "" {
		ctx = logging.ContextWithCorrelationID(ctx, item.correlationID)
	}
	defer e.recoverItem(ctx, QueueAlerts, alert.AlertID)

	attempts, err := e.withRetry(ctx, "insert_alert", alert.AlertID, func(ctx context.Context) error {
		return e.store.InsertAlert(ctx, alert)
	})
	if err != nil {
		e.drop(ctx, QueueAlerts, alert.AlertID, deadletter.ReasonRetriesExhausted, attempts, err, alert)
		return
	}
	alert.Stored = true
	e.stats.alertsStored.Add(1)
	metrics.ItemsProcessed.WithLabelValues(QueueAlerts).Inc()

	if e.bus != nil {
		if err := e.bus.Publish(ctx, alert); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("alert_id", alert.AlertID).Msg("Failed to publish alert to bus")
		}
	}

	if alert.Severity.AtLeast(audit.LevelHigh) {
		e.notify(ctx, alert)
	}
	if alert.Severity == audit.LevelCritical && e.responder != nil {
		e.respond(ctx, alert)
	}
}

func (e *Engine) notify(ctx context.Context, alert *audit.Alert) {
	for _, n := range e.notifiers {
		nctx, cancel := context.WithTimeout(ctx, e.cfg.NotifyTimeout)
		ok, err := n.Send(nctx, alert)
		cancel()

		delivered := ok && err == nil
		metrics.RecordNotification(n.Name(), delivered)
		if delivered {
			continue
		}
		e.stats.notifyFailed.Add(1)
		logging.Ctx(ctx).Warn().Err(err).
			Str("notifier", n.Name()).
			Str("alert_id", alert.AlertID).
			Str("alert_type", string(alert.AlertType)).
			Msg("Alert notification failed")
	}
}

func (e *Engine) respond(ctx context.Context, alert *audit.Alert) {
	resolved, err := e.responder.Respond(ctx, alert)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("alert_id", alert.AlertID).Msg("Critical response failed")
		return
	}
	if !resolved {
		return
	}
	if err := e.store.MarkAutoResolved(ctx, alert.AlertID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("alert_id", alert.AlertID).Msg("Failed to mark alert auto-resolved")
		return
	}
	alert.AutoResolved = true
	logging.Ctx(ctx).Info().Str("alert_id", alert.AlertID).Msg("Critical alert auto-resolved")
}

// withRetry runs op up to 1+StoreMaxRetries times with exponential backoff.
// It returns the number of attempts made and the last error.
func (e *Engine) withRetry(ctx context.Context, operation, itemID string, op func(context.Context) error) (int, error) {
	var err error
	maxAttempts := 1 + e.cfg.StoreMaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.StoreRetries.WithLabelValues(operation).Inc()
			delay := e.backoff(attempt - 1)
			logging.Ctx(ctx).Warn().Err(err).
				Str("operation", operation).
				Str("item_id", itemID).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("Store write failed, retrying")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
		}

		start := time.Now()
		err = op(ctx)
		metrics.RecordStoreWrite(operation, time.Since(start))
		if err == nil {
			return attempt + 1, nil
		}
	}
	return maxAttempts, err
}

// backoff returns StoreRetryBackoff * 2^attempts, capped at maxRetryBackoff.
func (e *Engine) backoff(attempts int) time.Duration {
	if attempts > 30 {
		return maxRetryBackoff
	}
	d := e.cfg.StoreRetryBackoff * time.Duration(1<<uint(attempts))
	if d <= 0 || d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}

// drop gives up on an item: it is logged, counted and dead-lettered.
func (e *Engine) drop(ctx context.Context, queue, itemID, reason string, attempts int, err error, payload interface{}) {
	metrics.ItemsDropped.WithLabelValues(queue, reason).Inc()
	e.stats.drop(reason)

	logging.Ctx(ctx).Error().Err(err).
		Str("queue", queue).
		Str("item_id", itemID).
		Str("reason", reason).
		Int("attempts", attempts).
		Msg("Dropped pipeline item")

	if e.deadLetters == nil {
		return
	}
	if dlErr := e.deadLetters.Record(ctx, queue, itemID, reason, attempts, err, e.protectDetails(ctx, payload)); dlErr != nil {
		logging.Ctx(ctx).Error().Err(dlErr).Str("queue", queue).Str("item_id", itemID).
			Msg("Failed to record dead letter")
	}
}

// protectDetails applies the at-rest encryption policy to a dropped event
// before it leaves the pipeline. Details of HIGH and CRITICAL events are
// sealed with the key custody, or removed when they cannot be sealed and
// plaintext is not allowed. Other payloads are returned unchanged.
func (e *Engine) protectDetails(ctx context.Context, payload interface{}) interface{} {
	event, ok := payload.(*audit.Event)
	if !ok || len(event.Details) == 0 || !e.cfg.EncryptHighSeverity || !event.AlertLevel.AtLeast(audit.LevelHigh) {
		return payload
	}

	sealed, err := e.sealDetails(event.Details)
	if err != nil && e.cfg.AllowPlaintextFallback {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", event.EventID).
			Msg("Encryption failed, dead-lettering details in plaintext as permitted by policy")
		return payload
	}

	out := *event
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", event.EventID).
			Msg("Encryption failed, details removed from dead letter")
		out.Details = map[string]interface{}{deadLetterRedacted: true}
		return &out
	}
	out.Details = map[string]interface{}{deadLetterSealed: sealed}
	out.Encrypted = true
	return &out
}

// Keys that replace the details of a protected dead-lettered event.
const (
	deadLetterSealed   = "sealed_details"
	deadLetterRedacted = "details_redacted"
)

func (e *Engine) sealDetails(details map[string]interface{}) (string, error) {
	if e.custody == nil {
		return "", errors.New("no key custody configured")
	}
	plain, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("failed to encode details: %w", err)
	}
	ciphertext, err := e.custody.Encrypt(plain)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// abandon drops an item still queued when the drain deadline passed.
func (e *Engine) abandon(ctx context.Context, queue, itemID string, payload interface{}) {
	logging.Warn().Str("queue", queue).Str("item_id", itemID).
		Msg("Drain timeout exceeded, item not processed")
	e.drop(ctx, queue, itemID, deadletter.ReasonShutdown, 0, fmt.Errorf("drain timeout of %s exceeded", e.cfg.DrainTimeout), payload)
}

// recoverItem keeps a worker loop alive when one item panics.
func (e *Engine) recoverItem(ctx context.Context, queue, itemID string) {
	if r := recover(); r != nil {
		metrics.ItemsDropped.WithLabelValues(queue, "panic").Inc()
		e.stats.drop("panic")
		logging.Ctx(ctx).Error().
			Str("queue", queue).
			Str("item_id", itemID).
			Interface("panic", r).
			Msg("Recovered from panic while processing item")
	}
}
