// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

/*
Package engine wires the audit pipeline together.

An Engine owns two bounded queues, each with exactly one consumer:

	LogEvent -> ingest queue -> event processor -> Store + Matcher
	                                                  |
	                            alert queue <---------+
	                                 |
	                            alert processor -> Store + bus + notifiers

LogEvent validates, scores, enriches and enqueues, then returns the event ID
without waiting for persistence. RunWithContext runs the two processors and
the maintenance job until the context is cancelled, then drains both queues
within the configured drain timeout. Items that cannot be stored after the
configured retries, or that are still queued when the drain timeout expires,
are logged, counted and written to the dead-letter store.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/config"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/detection"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/enrich"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/risk"
)

var (
	// ErrEngineStopped is returned by LogEvent once shutdown has begun.
	ErrEngineStopped = errors.New("audit engine stopped")

	// ErrAlreadyRunning is returned when RunWithContext is called twice.
	ErrAlreadyRunning = errors.New("audit engine already running")
)

// Queue names used in logs, metrics and dead-letter entries.
const (
	QueueEvents = "events"
	QueueAlerts = "alerts"
)

// AlertPublisher forwards stored alerts to a message bus.
type AlertPublisher interface {
	Publish(ctx context.Context, alert *audit.Alert) error
}

// DeadLetterRecorder keeps items the pipeline gave up on.
type DeadLetterRecorder interface {
	Record(ctx context.Context, queue, itemID, reason string, attempts int, lastErr error, payload interface{}) error
}

// Options carries the collaborators injected into an Engine. Store is
// required; everything else is optional.
type Options struct {
	Store audit.Store

	// Scorer and Matcher are built from the configuration when nil.
	Scorer  *risk.Scorer
	Matcher *detection.Matcher

	Enricher    *enrich.Enricher
	Notifiers   []audit.Notifier
	Bus         AlertPublisher
	DeadLetters DeadLetterRecorder
	Responder   audit.CriticalResponder

	// Custody seals the details of HIGH and CRITICAL events written to the
	// dead-letter store. Without it those details are redacted when the
	// encryption policy forbids plaintext.
	Custody audit.KeyCustody

	// Now is the clock for event and alert timestamps. Defaults to time.Now.
	Now func() time.Time
}

type eventItem struct {
	event         *audit.Event
	correlationID string
}

type alertItem struct {
	alert         *audit.Alert
	correlationID string
}

// Engine is the audit and detection orchestrator. Create one with New at
// process start and share it by reference.
type Engine struct {
	cfg   config.AuditConfig
	store audit.Store

	scorer      *risk.Scorer
	matcher     *detection.Matcher
	enricher    *enrich.Enricher
	notifiers   []audit.Notifier
	bus         AlertPublisher
	deadLetters DeadLetterRecorder
	responder   audit.CriticalResponder
	custody     audit.KeyCustody
	now         func() time.Time

	ingest chan eventItem
	alerts chan alertItem

	// mu guards stopped and drainBy. senders tracks LogEvent calls that
	// passed the stopped check and may still send on ingest.
	mu      sync.RWMutex
	stopped bool
	drainBy time.Time
	closing chan struct{}
	senders sync.WaitGroup

	running atomic.Bool

	snapMu   sync.RWMutex
	snapshot *audit.Dashboard

	stats counters
}

// New builds an Engine from cfg and the injected collaborators.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	auditCfg := withDefaults(cfg.Audit)
	loc := auditCfg.Location()

	scorer := opts.Scorer
	if scorer == nil {
		scorer = risk.NewScorer(opts.Store, risk.Config{
			HighActivityThreshold: cfg.Risk.HighActivityThreshold,
			FailedIPThreshold:     cfg.Risk.FailedIPThreshold,
			SuspiciousIPTTL:       cfg.Risk.SuspiciousIPTTL,
			NewLocationLookback:   cfg.Risk.NewLocationLookback,
			BusinessStart:         auditCfg.BusinessHours.Start,
			BusinessEnd:           auditCfg.BusinessHours.End,
			Location:              loc,
		}, opts.Now)
	}

	matcher := opts.Matcher
	if matcher == nil {
		var err error
		matcher, err = detection.NewMatcher(opts.Store, detection.Config{
			Patterns:          cfg.Detection.Patterns,
			SuppressionWindow: cfg.Detection.SuppressionWindow,
			BusinessHours: detection.BusinessHours{
				Start:    auditCfg.BusinessHours.Start,
				End:      auditCfg.BusinessHours.End,
				Location: loc,
			},
			Now: opts.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: build matcher: %w", err)
		}
	}

	return &Engine{
		cfg:         auditCfg,
		store:       opts.Store,
		scorer:      scorer,
		matcher:     matcher,
		enricher:    opts.Enricher,
		notifiers:   opts.Notifiers,
		bus:         opts.Bus,
		deadLetters: opts.DeadLetters,
		responder:   opts.Responder,
		custody:     opts.Custody,
		now:         opts.Now,
		ingest:      make(chan eventItem, auditCfg.IngestQueueSize),
		alerts:      make(chan alertItem, auditCfg.AlertQueueSize),
		closing:     make(chan struct{}),
		stats:       counters{dropped: map[string]int64{}},
	}, nil
}

// withDefaults fills zero values from config.Default.
func withDefaults(c config.AuditConfig) config.AuditConfig {
	d := config.Default().Audit
	if c.RetentionDays <= 0 {
		c.RetentionDays = d.RetentionDays
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = d.SnapshotInterval
	}
	if c.IngestQueueSize <= 0 {
		c.IngestQueueSize = d.IngestQueueSize
	}
	if c.AlertQueueSize <= 0 {
		c.AlertQueueSize = d.AlertQueueSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.StoreMaxRetries < 0 {
		c.StoreMaxRetries = 0
	}
	if c.StoreRetryBackoff <= 0 {
		c.StoreRetryBackoff = d.StoreRetryBackoff
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	if c.BusinessHours == (config.BusinessHoursConfig{}) {
		c.BusinessHours = d.BusinessHours
	}
	return c
}

// Matcher returns the pattern matcher, for runtime rule changes.
func (e *Engine) Matcher() *detection.Matcher {
	return e.matcher
}

// Stats is a point-in-time view of pipeline counters.
type Stats struct {
	Ingested            int64            `json:"ingested"`
	Persisted           int64            `json:"persisted"`
	AlertsStored        int64            `json:"alerts_stored"`
	NotificationsFailed int64            `json:"notifications_failed"`
	Dropped             map[string]int64 `json:"dropped"`
	EventQueueDepth     int              `json:"event_queue_depth"`
	AlertQueueDepth     int              `json:"alert_queue_depth"`
	Stopped             bool             `json:"stopped"`
}

// TotalDropped sums Dropped across reasons.
func (s Stats) TotalDropped() int64 {
	var n int64
	for _, v := range s.Dropped {
		n += v
	}
	return n
}

type counters struct {
	ingested     atomic.Int64
	persisted    atomic.Int64
	alertsStored atomic.Int64
	notifyFailed atomic.Int64

	mu      sync.Mutex
	dropped map[string]int64
}

func (c *counters) drop(reason string) {
	c.mu.Lock()
	c.dropped[reason]++
	c.mu.Unlock()
}

// Stats returns the current counters and queue depths.
func (e *Engine) Stats() Stats {
	e.stats.mu.Lock()
	dropped := make(map[string]int64, len(e.stats.dropped))
	for k, v := range e.stats.dropped {
		dropped[k] = v
	}
	e.stats.mu.Unlock()

	return Stats{
		Ingested:            e.stats.ingested.Load(),
		Persisted:           e.stats.persisted.Load(),
		AlertsStored:        e.stats.alertsStored.Load(),
		NotificationsFailed: e.stats.notifyFailed.Load(),
		Dropped:             dropped,
		EventQueueDepth:     len(e.ingest),
		AlertQueueDepth:     len(e.alerts),
		Stopped:             e.Stopped(),
	}
}

// Stopped reports whether shutdown has begun.
func (e *Engine) Stopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped
}
