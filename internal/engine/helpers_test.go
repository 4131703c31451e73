// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/config"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/detection"
)

// noon is inside default business hours in UTC.
var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return noon }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Audit.Timezone = "UTC"
	cfg.Audit.IdleTimeout = 10 * time.Millisecond
	cfg.Audit.StoreRetryBackoff = time.Millisecond
	cfg.Audit.DrainTimeout = 5 * time.Second
	cfg.Audit.NotifyTimeout = time.Second
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, opts Options) *Engine {
	t.Helper()

	if opts.Now == nil {
		opts.Now = fixedClock
	}
	e, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

// startEngine runs e in the background. The returned stop function cancels
// the run context and waits for the drain to finish; it is safe to call
// more than once.
func startEngine(t *testing.T, e *Engine) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.RunWithContext(ctx) }()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("RunWithContext returned %v", err)
				}
			case <-time.After(10 * time.Second):
				t.Fatal("engine did not stop within 10s")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func setupDuckDBStore(t *testing.T) *audit.DuckDBStore {
	t.Helper()

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory DuckDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := audit.NewDuckDBStore(db)
	if err := store.CreateSchema(context.Background()); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}
	return store
}

func mustLog(t *testing.T, e *Engine, in Input) string {
	t.Helper()

	id, err := e.LogEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("LogEvent(%s) failed: %v", in.EventType, err)
	}
	return id
}

func loginFailed(user, ip string, ts time.Time) Input {
	return Input{
		Category:  audit.CategoryAuthentication,
		EventType: "login_failed",
		UserID:    user,
		SourceIP:  ip,
		Outcome:   audit.OutcomeFailure,
		Timestamp: ts,
	}
}

func adminAccess(user string) Input {
	return Input{
		Category:  audit.CategoryAuthorization,
		EventType: "unauthorized_access",
		UserID:    user,
		SourceIP:  "10.0.0.9",
		Resource:  "admin_panel",
		Outcome:   audit.OutcomeFailure,
	}
}

func nightAccess(user string) Input {
	return Input{
		Category:  audit.CategorySystemAccess,
		EventType: "system_access",
		UserID:    user,
		SourceIP:  "10.0.0.4",
		Outcome:   audit.OutcomeSuccess,
		Timestamp: time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// memStore
// =============================================================================

var errStoreDown = errors.New("disk full")

// memStore is an in-memory audit.Store with failure injection.
type memStore struct {
	mu     sync.Mutex
	events []audit.Event
	alerts []audit.Alert

	// failEventWrites fails that many InsertEvent calls; -1 fails all.
	failEventWrites int
	eventAttempts   int
	insertDelay     time.Duration

	dashboardErr error

	// orphanAlerts counts alerts stored before one of their source events.
	orphanAlerts int
}

func (s *memStore) InsertEvent(_ context.Context, event *audit.Event) error {
	if s.insertDelay > 0 {
		time.Sleep(s.insertDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventAttempts++
	if s.failEventWrites != 0 {
		if s.failEventWrites > 0 {
			s.failEventWrites--
		}
		return audit.NewStorageError("insert_event", errStoreDown)
	}
	s.events = append(s.events, *event)
	return nil
}

func (s *memStore) InsertAlert(_ context.Context, alert *audit.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range alert.SourceEvents {
		if s.eventIndex(id) < 0 {
			s.orphanAlerts++
		}
	}
	a := *alert
	a.Stored = true
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *memStore) eventIndex(id string) int {
	for i := range s.events {
		if s.events[i].EventID == id {
			return i
		}
	}
	return -1
}

func (s *memStore) matching(f audit.CountFilter) []audit.Event {
	var out []audit.Event
	for _, e := range s.events {
		switch {
		case f.UserID != "" && e.UserID != f.UserID,
			f.SourceIP != "" && e.SourceIP != f.SourceIP,
			f.Outcome != "" && e.Outcome != f.Outcome,
			f.EventTypeContains != "" && !strings.Contains(e.EventType, f.EventTypeContains),
			!f.Since.IsZero() && e.Timestamp.Before(f.Since),
			!f.Until.IsZero() && !e.Timestamp.Before(f.Until),
			f.ExcludeEventID != "" && e.EventID == f.ExcludeEventID:
			continue
		}
		if len(f.EventTypes) > 0 {
			found := false
			for _, t := range f.EventTypes {
				found = found || t == e.EventType
			}
			if !found {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func (s *memStore) CountEvents(_ context.Context, f audit.CountFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.matching(f))), nil
}

func (s *memStore) ListEventIDs(_ context.Context, f audit.CountFilter, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.matching(f)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	var ids []string
	for i := 0; i < len(events) && i < limit; i++ {
		ids = append(ids, events[i].EventID)
	}
	return ids, nil
}

func (s *memStore) QueryDashboard(_ context.Context, q audit.DashboardQuery) (*audit.Dashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dashboardErr != nil {
		return nil, s.dashboardErr
	}
	d := &audit.Dashboard{
		TotalEvents:      int64(len(s.matching(audit.CountFilter{Since: q.Since, Until: q.Until}))),
		EventsByCategory: map[string]int64{},
		RiskDistribution: map[string]int64{},
		GeneratedAt:      time.Now().UTC(),
	}
	for _, a := range s.alerts {
		if a.AcknowledgedAt == nil && !a.AutoResolved {
			d.ActiveAlerts++
		}
	}
	return d, nil
}

func (s *memStore) DeleteEventsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, e := range s.events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	deleted := int64(len(s.events) - len(kept))
	s.events = kept
	return deleted, nil
}

func (s *memStore) GetEvent(_ context.Context, id string) (*audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.eventIndex(id); i >= 0 {
		e := s.events[i]
		return &e, nil
	}
	return nil, fmt.Errorf("event %s: %w", id, audit.ErrNotFound)
}

func (s *memStore) alertIndex(id string) int {
	for i := range s.alerts {
		if s.alerts[i].AlertID == id {
			return i
		}
	}
	return -1
}

func (s *memStore) GetAlert(_ context.Context, id string) (*audit.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.alertIndex(id); i >= 0 {
		a := s.alerts[i]
		return &a, nil
	}
	return nil, fmt.Errorf("alert %s: %w", id, audit.ErrNotFound)
}

func (s *memStore) ListAlerts(_ context.Context, f audit.AlertFilter) ([]audit.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []audit.Alert
	for _, a := range s.alerts {
		if f.AlertType != "" && a.AlertType != f.AlertType {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *memStore) AcknowledgeAlert(_ context.Context, id, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.alertIndex(id)
	if i < 0 {
		return fmt.Errorf("alert %s: %w", id, audit.ErrNotFound)
	}
	if s.alerts[i].AcknowledgedAt != nil {
		return fmt.Errorf("alert %s: %w", id, audit.ErrAlreadyAcknowledged)
	}
	s.alerts[i].AcknowledgedBy = by
	s.alerts[i].AcknowledgedAt = &at
	return nil
}

func (s *memStore) MarkAutoResolved(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.alertIndex(id)
	if i < 0 {
		return fmt.Errorf("alert %s: %w", id, audit.ErrNotFound)
	}
	s.alerts[i].AutoResolved = true
	return nil
}

func (s *memStore) storedEvents() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

func (s *memStore) storedAlerts() []audit.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Alert(nil), s.alerts...)
}

// =============================================================================
// Collaborator fakes
// =============================================================================

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []audit.Alert
	fail   bool
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Send(_ context.Context, alert *audit.Alert) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, *alert)
	if n.fail {
		return false, errors.New("smtp relay refused connection")
	}
	return true, nil
}

func (n *recordingNotifier) received() []audit.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]audit.Alert(nil), n.alerts...)
}

type resolvingResponder struct {
	mu    sync.Mutex
	calls int
}

func (r *resolvingResponder) Respond(context.Context, *audit.Alert) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return true, nil
}

type deadLetter struct {
	queue, itemID, reason string
	attempts              int
	payload               interface{}
}

type recordingDeadLetters struct {
	mu      sync.Mutex
	entries []deadLetter
}

func (d *recordingDeadLetters) Record(_ context.Context, queue, itemID, reason string, attempts int, _ error, payload interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, deadLetter{queue: queue, itemID: itemID, reason: reason, attempts: attempts, payload: payload})
	return nil
}

func (d *recordingDeadLetters) recorded() []deadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]deadLetter(nil), d.entries...)
}

// xorCustody is a reversible stand-in for AES key custody.
type xorCustody struct {
	fail bool
}

func (c *xorCustody) Encrypt(plaintext []byte) ([]byte, error) {
	if c.fail {
		return nil, errors.New("kms unavailable")
	}
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func (c *xorCustody) Decrypt(ciphertext []byte) ([]byte, error) {
	return c.Encrypt(ciphertext)
}

// panickyDetector stands in for a broken catalogue entry.
type panickyDetector struct {
	alertType audit.AlertType
}

func (d *panickyDetector) Type() audit.AlertType { return d.alertType }

func (d *panickyDetector) Check(context.Context, *audit.Event) (*audit.Alert, error) {
	panic("index out of range")
}

func (d *panickyDetector) Configure(config.PatternConfig) error { return nil }
func (d *panickyDetector) Enabled() bool                        { return true }
func (d *panickyDetector) SetEnabled(bool)                      {}
func (d *panickyDetector) Rule() detection.Rule                 { return detection.Rule{} }
