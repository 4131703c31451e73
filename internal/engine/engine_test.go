// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/deadletter"
)

// =============================================================================
// Ingestion
// =============================================================================

func TestLogEvent_Validation(t *testing.T) {
	valid := Input{
		Category:  audit.CategoryAuthentication,
		EventType: "login_success",
		UserID:    "user1",
		Outcome:   audit.OutcomeSuccess,
	}

	tests := []struct {
		name   string
		mutate func(*Input)
		field  string
	}{
		{"empty event type", func(in *Input) { in.EventType = "" }, "event_type"},
		{"blank user", func(in *Input) { in.UserID = "   " }, "user_id"},
		{"unknown outcome", func(in *Input) { in.Outcome = "MAYBE" }, "outcome"},
		{"missing outcome", func(in *Input) { in.Outcome = "" }, "outcome"},
		{"unknown category", func(in *Input) { in.Category = "Billing" }, "category"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, testConfig(), Options{Store: &memStore{}})

			in := valid
			tt.mutate(&in)
			id, err := e.LogEvent(context.Background(), in)

			var verr *audit.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("LogEvent error = %v, want *audit.ValidationError", err)
			}
			if id != "" {
				t.Errorf("id = %q, want empty", id)
			}
			if len(verr.Fields) != 1 || verr.Fields[0] != tt.field {
				t.Errorf("Fields = %v, want [%s]", verr.Fields, tt.field)
			}
			if stats := e.Stats(); stats.Ingested != 0 || stats.EventQueueDepth != 0 {
				t.Errorf("stats = %+v, want nothing queued", stats)
			}
		})
	}
}

func TestLogEvent_ReturnsBeforePersistence(t *testing.T) {
	store := &memStore{}
	e := newTestEngine(t, testConfig(), Options{Store: store})

	id := mustLog(t, e, Input{
		Category:  audit.CategoryAuthentication,
		EventType: "login_success",
		UserID:    "user1",
		SourceIP:  "[2001:db8::1]:443",
		Outcome:   audit.OutcomeSuccess,
	})

	if len(id) != 32 {
		t.Errorf("len(id) = %d, want 32 hex characters", len(id))
	}
	if n := len(store.storedEvents()); n != 0 {
		t.Errorf("stored %d events before the processor ran", n)
	}
	if depth := e.Stats().EventQueueDepth; depth != 1 {
		t.Errorf("EventQueueDepth = %d, want 1", depth)
	}

	stop := startEngine(t, e)
	stop()

	events := store.storedEvents()
	if len(events) != 1 || events[0].EventID != id {
		t.Fatalf("stored events = %v, want the queued one", events)
	}
	if events[0].SourceIP != "2001:db8::1" {
		t.Errorf("SourceIP = %q, want normalized 2001:db8::1", events[0].SourceIP)
	}
	if !events[0].Timestamp.Equal(noon) {
		t.Errorf("Timestamp = %v, want engine clock %v", events[0].Timestamp, noon)
	}
}

func TestLogEvent_UniqueIDsUnderConcurrency(t *testing.T) {
	const n = 10000

	cfg := testConfig()
	cfg.Audit.IngestQueueSize = n
	e := newTestEngine(t, cfg, Options{Store: &memStore{}})

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{}, n)
	)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := e.LogEvent(context.Background(), Input{
				Category:  audit.CategoryDataAccess,
				EventType: "data_read",
				UserID:    "user1",
				Outcome:   audit.OutcomeSuccess,
			})
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("LogEvent failed: %v", err)
	}
	if len(ids) != n {
		t.Errorf("distinct ids = %d, want %d", len(ids), n)
	}
}

func TestLogEvent_AfterShutdown(t *testing.T) {
	e := newTestEngine(t, testConfig(), Options{Store: &memStore{}})
	stop := startEngine(t, e)
	stop()

	_, err := e.LogEvent(context.Background(), adminAccess("user1"))
	if !errors.Is(err, ErrEngineStopped) {
		t.Errorf("LogEvent after shutdown = %v, want ErrEngineStopped", err)
	}
	if !e.Stats().Stopped {
		t.Error("Stats().Stopped = false after shutdown")
	}
}

func TestRunWithContext_OnlyOnce(t *testing.T) {
	e := newTestEngine(t, testConfig(), Options{Store: &memStore{}})
	startEngine(t, e)

	// Wait for the first run to claim the engine.
	deadline := time.Now().Add(5 * time.Second)
	for !e.running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := e.RunWithContext(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second RunWithContext = %v, want ErrAlreadyRunning", err)
	}
}

// =============================================================================
// Event and alert processing
// =============================================================================

func TestPipeline_WriteBeforeAlert(t *testing.T) {
	store := &memStore{}
	e := newTestEngine(t, testConfig(), Options{Store: store})
	stop := startEngine(t, e)

	for i := 0; i < 6; i++ {
		mustLog(t, e, loginFailed("user1", "10.0.0.1", noon.Add(time.Duration(i)*time.Second)))
	}
	mustLog(t, e, adminAccess("user2"))
	stop()

	if n := len(store.storedAlerts()); n != 3 {
		t.Fatalf("stored alerts = %d, want 3 (two brute force, one privilege escalation)", n)
	}
	if store.orphanAlerts != 0 {
		t.Errorf("%d alerts referenced events not yet stored", store.orphanAlerts)
	}
}

func TestPipeline_StoreFailureIsRetriedThenDropped(t *testing.T) {
	store := &memStore{failEventWrites: -1}
	dlq, err := deadletter.Open(deadletter.Config{InMemory: true})
	if err != nil {
		t.Fatalf("deadletter.Open failed: %v", err)
	}
	t.Cleanup(func() { dlq.Close() })

	cfg := testConfig()
	cfg.Audit.StoreMaxRetries = 2
	e := newTestEngine(t, cfg, Options{Store: store, DeadLetters: dlq})
	stop := startEngine(t, e)

	id := mustLog(t, e, adminAccess("user1"))
	stop()

	if store.eventAttempts != 3 {
		t.Errorf("InsertEvent attempts = %d, want 3", store.eventAttempts)
	}
	stats := e.Stats()
	if stats.Persisted != 0 || stats.Dropped[deadletter.ReasonRetriesExhausted] != 1 {
		t.Errorf("stats = %+v, want one retries_exhausted drop", stats)
	}
	if n := len(store.storedAlerts()); n != 0 {
		t.Errorf("stored %d alerts for an event that was never persisted", n)
	}

	entries, err := dlq.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(entries))
	}
	got := entries[0]
	if got.Queue != QueueEvents || got.ItemID != id || got.Attempts != 3 || got.Reason != deadletter.ReasonRetriesExhausted {
		t.Errorf("dead letter = %+v", got)
	}
	if got.LastError == "" || len(got.Payload) == 0 {
		t.Errorf("dead letter should carry the error and payload: %+v", got)
	}
}

func TestPipeline_TransientStoreFailureRecovers(t *testing.T) {
	store := &memStore{failEventWrites: 2}
	e := newTestEngine(t, testConfig(), Options{Store: store})
	stop := startEngine(t, e)

	mustLog(t, e, adminAccess("user1"))
	stop()

	stats := e.Stats()
	if stats.Persisted != 1 || stats.TotalDropped() != 0 {
		t.Errorf("stats = %+v, want one persisted and nothing dropped", stats)
	}
	if n := len(store.storedAlerts()); n != 1 {
		t.Errorf("stored alerts = %d, want 1", n)
	}
}

func TestPipeline_PanickingPatternIsIsolated(t *testing.T) {
	store := &memStore{}
	e := newTestEngine(t, testConfig(), Options{Store: store})
	e.Matcher().Register(&panickyDetector{alertType: audit.AlertBruteForce})
	stop := startEngine(t, e)

	id := mustLog(t, e, adminAccess("user1"))
	stop()

	events := store.storedEvents()
	if len(events) != 1 || events[0].EventID != id {
		t.Fatalf("stored events = %v, want the admin access event", events)
	}
	alerts := store.storedAlerts()
	if len(alerts) != 1 || alerts[0].AlertType != audit.AlertPrivilegeEscalation {
		t.Errorf("alerts = %v, want one privilege_escalation", alerts)
	}
}

func TestPipeline_NotificationGating(t *testing.T) {
	store := &memStore{}
	notifier := &recordingNotifier{}
	e := newTestEngine(t, testConfig(), Options{Store: store, Notifiers: []audit.Notifier{notifier}})
	stop := startEngine(t, e)

	mustLog(t, e, nightAccess("night-owl"))
	mustLog(t, e, adminAccess("intruder"))
	stop()

	if n := len(store.storedAlerts()); n != 2 {
		t.Fatalf("stored alerts = %d, want 2", n)
	}
	got := notifier.received()
	if len(got) != 1 {
		t.Fatalf("notified %d alerts, want 1", len(got))
	}
	if got[0].Severity != audit.LevelCritical || got[0].AffectedUser != "intruder" {
		t.Errorf("notified %s for %s, want CRITICAL for intruder", got[0].Severity, got[0].AffectedUser)
	}
	if got[0].Status() != audit.StatusStored {
		t.Errorf("notified alert status = %s, want STORED", got[0].Status())
	}
}

func TestPipeline_NotificationFailureIsContained(t *testing.T) {
	store := &memStore{}
	notifier := &recordingNotifier{fail: true}
	e := newTestEngine(t, testConfig(), Options{Store: store, Notifiers: []audit.Notifier{notifier}})
	stop := startEngine(t, e)

	mustLog(t, e, adminAccess("user1"))
	mustLog(t, e, adminAccess("user2"))
	stop()

	stats := e.Stats()
	if stats.AlertsStored != 2 || stats.NotificationsFailed != 2 {
		t.Errorf("stats = %+v, want 2 stored and 2 failed notifications", stats)
	}
	if n := len(notifier.received()); n != 2 {
		t.Errorf("notifier attempts = %d, want 2 (no retry loop)", n)
	}
}

func TestPipeline_SuppressionWindow(t *testing.T) {
	store := &memStore{}
	cfg := testConfig()
	cfg.Detection.SuppressionWindow = 10 * time.Minute
	e := newTestEngine(t, cfg, Options{Store: store})
	stop := startEngine(t, e)

	mustLog(t, e, adminAccess("user1"))
	mustLog(t, e, adminAccess("user1"))
	mustLog(t, e, adminAccess("user2"))
	stop()

	alerts := store.storedAlerts()
	if len(alerts) != 2 {
		t.Fatalf("stored alerts = %d, want 2 (repeat for user1 suppressed)", len(alerts))
	}
	if alerts[0].AffectedUser == alerts[1].AffectedUser {
		t.Errorf("both alerts for %s, want one per user", alerts[0].AffectedUser)
	}
}

func TestSweepCaches_EvictsExpiredSuppression(t *testing.T) {
	store := &memStore{}
	cfg := testConfig()
	cfg.Detection.SuppressionWindow = 10 * time.Minute
	now := noon
	e := newTestEngine(t, cfg, Options{Store: store, Now: func() time.Time { return now }})
	stop := startEngine(t, e)

	mustLog(t, e, adminAccess("user1"))
	stop()

	if removed := e.sweepCaches(); removed != 0 {
		t.Errorf("sweep inside the window removed %d entries, want 0", removed)
	}
	now = noon.Add(11 * time.Minute)
	if removed := e.sweepCaches(); removed < 1 {
		t.Errorf("sweep after the window removed %d entries, want at least 1", removed)
	}
}

func TestPipeline_CriticalAutoResolve(t *testing.T) {
	store := &memStore{}
	responder := &resolvingResponder{}
	e := newTestEngine(t, testConfig(), Options{Store: store, Responder: responder})
	stop := startEngine(t, e)

	mustLog(t, e, adminAccess("user1"))
	mustLog(t, e, nightAccess("user2"))
	stop()

	if responder.calls != 1 {
		t.Errorf("responder calls = %d, want 1 (CRITICAL only)", responder.calls)
	}
	for _, a := range store.storedAlerts() {
		want := audit.StatusStored
		if a.Severity == audit.LevelCritical {
			want = audit.StatusAutoResolved
		}
		if a.Status() != want {
			t.Errorf("%s alert status = %s, want %s", a.AlertType, a.Status(), want)
		}
	}
}

// =============================================================================
// Shutdown
// =============================================================================

func TestShutdown_DrainsAcceptedEvents(t *testing.T) {
	store := &memStore{insertDelay: time.Millisecond}
	e := newTestEngine(t, testConfig(), Options{Store: store})
	stop := startEngine(t, e)

	const n = 50
	for i := 0; i < n; i++ {
		mustLog(t, e, Input{
			Category:  audit.CategoryDataAccess,
			EventType: "report_viewed",
			UserID:    "user1",
			Outcome:   audit.OutcomeSuccess,
		})
	}
	stop()

	if got := len(store.storedEvents()); got != n {
		t.Errorf("stored %d events after shutdown, want %d", got, n)
	}
	if got := e.Stats().EventQueueDepth; got != 0 {
		t.Errorf("EventQueueDepth = %d after drain, want 0", got)
	}
}

func TestShutdown_DrainTimeoutDeadLettersLeftovers(t *testing.T) {
	const n = 20

	store := &memStore{}
	dlq := &recordingDeadLetters{}
	cfg := testConfig()
	cfg.Audit.DrainTimeout = time.Nanosecond
	e := newTestEngine(t, cfg, Options{Store: store, DeadLetters: dlq})

	for i := 0; i < n; i++ {
		mustLog(t, e, Input{
			Category:  audit.CategoryNetwork,
			EventType: "port_opened",
			UserID:    "svc",
			Outcome:   audit.OutcomeSuccess,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.RunWithContext(ctx); err != nil {
		t.Fatalf("RunWithContext failed: %v", err)
	}

	stats := e.Stats()
	abandoned := stats.Dropped[deadletter.ReasonShutdown]
	if abandoned == 0 {
		t.Fatal("expected leftovers to be abandoned after the drain timeout")
	}
	if stats.Persisted+abandoned != n {
		t.Errorf("persisted %d + abandoned %d, want %d", stats.Persisted, abandoned, n)
	}
	if got := len(dlq.recorded()); int64(got) != abandoned {
		t.Errorf("dead letters = %d, want %d", got, abandoned)
	}
	for _, dl := range dlq.recorded() {
		if dl.queue != QueueEvents || dl.reason != deadletter.ReasonShutdown {
			t.Errorf("dead letter = %+v", dl)
		}
	}
}

// =============================================================================
// Maintenance, dashboard and alert queries
// =============================================================================

func TestRunRetention_Idempotent(t *testing.T) {
	store := setupDuckDBStore(t)
	ctx := context.Background()
	for i, age := range []time.Duration{100 * 24 * time.Hour, 91 * 24 * time.Hour, 10 * 24 * time.Hour} {
		err := store.InsertEvent(ctx, &audit.Event{
			EventID:    "evt-" + string(rune('a'+i)),
			Timestamp:  noon.Add(-age),
			Category:   audit.CategorySystemAccess,
			EventType:  "system_access",
			UserID:     "user1",
			Outcome:    audit.OutcomeSuccess,
			AlertLevel: audit.LevelInfo,
		})
		if err != nil {
			t.Fatalf("InsertEvent failed: %v", err)
		}
	}

	e := newTestEngine(t, testConfig(), Options{Store: store})

	deleted, err := e.RunRetention(ctx)
	if err != nil || deleted != 2 {
		t.Fatalf("first sweep = %d, %v; want 2, nil", deleted, err)
	}
	deleted, err = e.RunRetention(ctx)
	if err != nil || deleted != 0 {
		t.Errorf("second sweep = %d, %v; want 0, nil", deleted, err)
	}
	if _, err := e.GetEvent(ctx, "evt-c"); err != nil {
		t.Errorf("recent event should survive retention: %v", err)
	}
	if _, err := e.GetEvent(ctx, "evt-a"); !errors.Is(err, audit.ErrNotFound) {
		t.Errorf("GetEvent(expired) = %v, want ErrNotFound", err)
	}
}

func TestGetSecurityDashboard_StaleSnapshotFallback(t *testing.T) {
	store := &memStore{}
	e := newTestEngine(t, testConfig(), Options{Store: store})
	ctx := context.Background()

	store.dashboardErr = audit.ErrDashboardUnavailable
	if _, err := e.GetSecurityDashboard(ctx, 24); !errors.Is(err, audit.ErrDashboardUnavailable) {
		t.Fatalf("without snapshot: err = %v, want ErrDashboardUnavailable", err)
	}

	store.mu.Lock()
	store.dashboardErr = nil
	store.mu.Unlock()
	if err := e.RefreshSnapshot(ctx); err != nil {
		t.Fatalf("RefreshSnapshot failed: %v", err)
	}

	store.mu.Lock()
	store.dashboardErr = errors.New("connection reset")
	store.mu.Unlock()
	d, err := e.GetSecurityDashboard(ctx, 24)
	if err != nil {
		t.Fatalf("GetSecurityDashboard failed: %v", err)
	}
	if !d.Stale {
		t.Error("dashboard should be marked stale")
	}

	fresh, err := e.queryDashboard(ctx, 24)
	if err == nil || fresh != nil {
		t.Error("live query should still be failing")
	}
}

func TestGetSecurityDashboard_RejectsBadRange(t *testing.T) {
	e := newTestEngine(t, testConfig(), Options{Store: &memStore{}})

	for _, hours := range []int{0, -1, MaxDashboardHours + 1} {
		_, err := e.GetSecurityDashboard(context.Background(), hours)
		var verr *audit.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("hours=%d: err = %v, want *audit.ValidationError", hours, err)
		}
	}
}

func TestAcknowledgeAlert(t *testing.T) {
	store := &memStore{}
	e := newTestEngine(t, testConfig(), Options{Store: store})
	stop := startEngine(t, e)
	mustLog(t, e, adminAccess("user1"))
	stop()

	ctx := context.Background()
	alerts, err := e.ListAlerts(ctx, audit.AlertFilter{AlertType: audit.AlertPrivilegeEscalation})
	if err != nil || len(alerts) != 1 {
		t.Fatalf("ListAlerts = %v, %v; want one alert", alerts, err)
	}
	id := alerts[0].AlertID

	if err := e.AcknowledgeAlert(ctx, id, " "); err == nil {
		t.Error("blank acknowledger should be rejected")
	}
	if err := e.AcknowledgeAlert(ctx, id, "secops"); err != nil {
		t.Fatalf("AcknowledgeAlert failed: %v", err)
	}
	if err := e.AcknowledgeAlert(ctx, id, "secops"); !errors.Is(err, audit.ErrAlreadyAcknowledged) {
		t.Errorf("second acknowledgment = %v, want ErrAlreadyAcknowledged", err)
	}

	got, err := e.GetAlert(ctx, id)
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if got.Status() != audit.StatusAcknowledged || got.AcknowledgedBy != "secops" {
		t.Errorf("alert = %s by %q, want ACKNOWLEDGED by secops", got.Status(), got.AcknowledgedBy)
	}
	if !got.AcknowledgedAt.Equal(noon) {
		t.Errorf("AcknowledgedAt = %v, want %v", got.AcknowledgedAt, noon)
	}
}

func TestBackoff(t *testing.T) {
	e := newTestEngine(t, testConfig(), Options{Store: &memStore{}})
	e.cfg.StoreRetryBackoff = 100 * time.Millisecond

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, maxRetryBackoff},
		{64, maxRetryBackoff},
	}
	for _, tt := range tests {
		if got := e.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
