// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

// Package metrics holds the Prometheus collectors for the audit pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_events_ingested_total",
			Help: "Audit events accepted by the ingestion gateway",
		},
		[]string{"category"},
	)

	EventsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_events_rejected_total",
			Help: "Audit events rejected by input validation",
		},
	)

	EnrichmentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_enrichment_failures_total",
			Help: "Best-effort enrichment lookups that failed or timed out",
		},
		[]string{"kind"},
	)

	RiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guardian_event_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// Queues and workers
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guardian_queue_depth",
			Help: "Items waiting in a worker queue",
		},
		[]string{"queue"},
	)

	QueueFull = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_queue_full_total",
			Help: "Times a producer found a worker queue full and had to wait",
		},
		[]string{"queue"},
	)

	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_items_processed_total",
			Help: "Items a worker finished successfully",
		},
		[]string{"queue"},
	)

	ItemsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_items_dropped_total",
			Help: "Items dropped after exhausting retries or at shutdown",
		},
		[]string{"queue", "reason"},
	)

	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_store_retries_total",
			Help: "Store writes retried after a failure",
		},
		[]string{"operation"},
	)

	StoreWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guardian_store_write_duration_seconds",
			Help:    "Duration of store writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Detection and alerting
	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_alerts_generated_total",
			Help: "Security alerts produced by the pattern matcher",
		},
		[]string{"alert_type", "severity"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_alerts_suppressed_total",
			Help: "Repeat alerts suppressed inside the suppression window",
		},
		[]string{"alert_type"},
	)

	PatternErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_pattern_errors_total",
			Help: "Threat pattern evaluations that failed",
		},
		[]string{"pattern"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_notifications_total",
			Help: "Alert notification attempts by notifier and result",
		},
		[]string{"notifier", "result"},
	)

	// Maintenance
	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardian_retention_deleted_total",
			Help: "Events removed by the retention sweep",
		},
	)

	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_maintenance_runs_total",
			Help: "Maintenance job runs by task and result",
		},
		[]string{"task", "result"},
	)

	DashboardLastSnapshot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardian_dashboard_snapshot_timestamp_seconds",
			Help: "Unix time of the last successful dashboard snapshot",
		},
	)

	// Ops API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardian_api_requests_total",
			Help: "Ops API requests by route pattern and status code",
		},
		[]string{"route", "status"},
	)
)

// RecordStoreWrite observes a store write duration.
func RecordStoreWrite(operation string, d time.Duration) {
	StoreWriteDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordNotification counts one notification attempt.
func RecordNotification(notifier string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	NotificationsSent.WithLabelValues(notifier, result).Inc()
}

// RecordMaintenance counts one maintenance task run.
func RecordMaintenance(task string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	MaintenanceRuns.WithLabelValues(task, result).Inc()
}

// RecordAPIRequest counts one ops API response.
func RecordAPIRequest(route string, status int) {
	APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
