// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

// Package risk computes the 0-100 risk score of an audit event and the alert
// level derived from it.
//
// Scoring is deterministic for a given event, store state, and clock:
//
//	base 10
//	+ category weight        only for non-SUCCESS outcomes or high-risk event types
//	+ outcome penalty        FAILURE 20, ERROR 15
//	+ high-risk event type   25
//	+ high activity          20 when the user logged more than 50 events in the last hour
//	+ suspicious source IP   30 when the IP had 10 or more failures in the last hour
//	+ off hours              15 outside business hours
//	+ new location           20 when a known user appears from an unseen IP
//	+ sensitive flags        admin_operation 15, sensitive_data_access 20
//
// and the total is clipped to [0, 100].
//
// A successful event of a routine type scores the base alone, whatever its
// category. With an unconditional weight a plain login_success would score
// 10 + 20 = 30 and land at LOW; gating keeps it at INFO.
package risk

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/cache"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/metrics"
)

const (
	MinScore  = 0
	MaxScore  = 100
	baseScore = 10

	failurePenalty      = 20
	errorPenalty        = 15
	highRiskTypePenalty = 25
	highActivityPenalty = 20
	suspiciousIPPenalty = 30
	offHoursPenalty     = 15
	newLocationPenalty  = 20
	adminOpPenalty      = 15
	sensitiveDataWeight = 20
)

// CategoryWeights is the fixed per-category weight table.
var CategoryWeights = map[audit.Category]int{
	audit.CategorySecurity:       40,
	audit.CategoryConfiguration:  35,
	audit.CategoryAuthorization:  30,
	audit.CategorySystemAccess:   30,
	audit.CategoryDataAccess:     25,
	audit.CategoryAuthentication: 20,
	audit.CategoryNetwork:        15,
	audit.CategoryError:          10,
	audit.CategoryPerformance:    5,
}

// HighRiskEventTypes add a fixed penalty and always carry the category weight.
var HighRiskEventTypes = map[string]bool{
	"login_failed":         true,
	"unauthorized_access":  true,
	"privilege_escalation": true,
	"security_violation":   true,
	"emergency_lockdown":   true,
	"admin_created":        true,
	"contract_deployed":    true,
	"token_minted":         true,
}

// Counter is the slice of the store the scorer reads rolling counts from.
type Counter interface {
	CountEvents(ctx context.Context, filter audit.CountFilter) (int64, error)
}

// Config tunes behavioural penalties.
type Config struct {
	HighActivityThreshold int
	FailedIPThreshold     int
	SuspiciousIPTTL       time.Duration
	NewLocationLookback   time.Duration
	BusinessStart         int
	BusinessEnd           int
	Location              *time.Location
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		HighActivityThreshold: 50,
		FailedIPThreshold:     10,
		SuspiciousIPTTL:       time.Hour,
		NewLocationLookback:   30 * 24 * time.Hour,
		BusinessStart:         9,
		BusinessEnd:           18,
		Location:              time.Local,
	}
}

// Factor is one contribution to a score.
type Factor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// Result is a score with its breakdown.
type Result struct {
	Score   int              `json:"score"`
	Level   audit.AlertLevel `json:"level"`
	Factors []Factor         `json:"factors"`
}

// Scorer computes risk scores. It is safe for concurrent use.
type Scorer struct {
	counter    Counter
	cfg        Config
	suspicious *cache.TTL[time.Time]
}

// NewScorer creates a scorer reading rolling counts from counter. now is the
// clock used for suspicious-IP expiry; nil means time.Now.
func NewScorer(counter Counter, cfg Config, now func() time.Time) *Scorer {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scorer{
		counter:    counter,
		cfg:        cfg,
		suspicious: cache.NewWithClock[time.Time](cfg.SuspiciousIPTTL, now),
	}
}

// Score rates event. Store failures skip the affected penalty rather than
// failing the score.
func (s *Scorer) Score(ctx context.Context, event *audit.Event) Result {
	r := Result{Factors: []Factor{{Name: "base", Points: baseScore}}}
	add := func(name string, points int) {
		r.Factors = append(r.Factors, Factor{Name: name, Points: points})
	}

	// Category weight applies only to non-SUCCESS or high-risk events.
	highRiskType := HighRiskEventTypes[event.EventType]
	if event.Outcome != audit.OutcomeSuccess || highRiskType {
		if w := CategoryWeights[event.Category]; w > 0 {
			add("category_"+strings.ToLower(string(event.Category)), w)
		}
	}

	switch event.Outcome {
	case audit.OutcomeFailure:
		add("outcome_failure", failurePenalty)
	case audit.OutcomeError:
		add("outcome_error", errorPenalty)
	}

	if highRiskType {
		add("high_risk_event_type", highRiskTypePenalty)
	}

	if s.isHighActivity(ctx, event) {
		add("high_activity", highActivityPenalty)
	}
	if s.isSuspiciousIP(ctx, event) {
		add("suspicious_ip", suspiciousIPPenalty)
	}
	if !s.WithinBusinessHours(event.Timestamp) {
		add("off_hours", offHoursPenalty)
	}
	if s.isNewLocation(ctx, event) {
		add("new_location", newLocationPenalty)
	}
	if truthy(event.Details["admin_operation"]) {
		add("admin_operation", adminOpPenalty)
	}
	if truthy(event.Details["sensitive_data_access"]) {
		add("sensitive_data_access", sensitiveDataWeight)
	}

	total := 0
	for _, f := range r.Factors {
		total += f.Points
	}
	r.Score = Clamp(total)
	r.Level = LevelFor(r.Score, event.EventType)
	metrics.RiskScore.Observe(float64(r.Score))
	return r
}

// WithinBusinessHours reports whether ts falls in [start, end) local time.
func (s *Scorer) WithinBusinessHours(ts time.Time) bool {
	return InBusinessHours(ts, s.cfg.BusinessStart, s.cfg.BusinessEnd, s.cfg.Location)
}

// InBusinessHours reports whether ts, viewed in loc, falls in [start, end).
func InBusinessHours(ts time.Time, start, end int, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	h := ts.In(loc).Hour()
	return h >= start && h < end
}

// IsSuspiciousIP reports whether ip is currently marked suspicious.
func (s *Scorer) IsSuspiciousIP(ip string) bool {
	return ip != "" && s.suspicious.Has(ip)
}

// Sweep drops expired suspicious-IP marks.
func (s *Scorer) Sweep() int {
	return s.suspicious.Sweep()
}

func (s *Scorer) isHighActivity(ctx context.Context, event *audit.Event) bool {
	n, err := s.counter.CountEvents(ctx, audit.CountFilter{
		UserID: event.UserID,
		Since:  event.Timestamp.Add(-time.Hour),
	})
	if err != nil {
		logScoringSkip(ctx, event, "high_activity", err)
		return false
	}
	return n > int64(s.cfg.HighActivityThreshold)
}

func (s *Scorer) isSuspiciousIP(ctx context.Context, event *audit.Event) bool {
	if event.SourceIP == "" {
		return false
	}
	if s.suspicious.Has(event.SourceIP) {
		return true
	}
	n, err := s.counter.CountEvents(ctx, audit.CountFilter{
		SourceIP: event.SourceIP,
		Outcome:  audit.OutcomeFailure,
		Since:    event.Timestamp.Add(-time.Hour),
	})
	if err != nil {
		logScoringSkip(ctx, event, "suspicious_ip", err)
		return false
	}
	if n < int64(s.cfg.FailedIPThreshold) {
		return false
	}
	s.suspicious.Set(event.SourceIP, event.Timestamp)
	logging.Ctx(ctx).Warn().Str("source_ip", event.SourceIP).Int64("failures", n).
		Msg("Source IP marked suspicious")
	return true
}

// isNewLocation is true only for users with history in the lookback window
// who have never used this source IP in it.
func (s *Scorer) isNewLocation(ctx context.Context, event *audit.Event) bool {
	if event.SourceIP == "" {
		return false
	}
	since := event.Timestamp.Add(-s.cfg.NewLocationLookback)

	history, err := s.counter.CountEvents(ctx, audit.CountFilter{
		UserID:         event.UserID,
		Since:          since,
		ExcludeEventID: event.EventID,
	})
	if err != nil {
		logScoringSkip(ctx, event, "new_location", err)
		return false
	}
	if history == 0 {
		return false
	}

	seen, err := s.counter.CountEvents(ctx, audit.CountFilter{
		UserID:         event.UserID,
		SourceIP:       event.SourceIP,
		Since:          since,
		ExcludeEventID: event.EventID,
	})
	if err != nil {
		logScoringSkip(ctx, event, "new_location", err)
		return false
	}
	return seen == 0
}

func logScoringSkip(ctx context.Context, event *audit.Event, factor string, err error) {
	logging.Ctx(ctx).Debug().Err(err).Str("event_id", event.EventID).Str("factor", factor).
		Msg("Risk factor skipped, rolling count unavailable")
}

// Clamp limits score to [MinScore, MaxScore].
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return false
	}
}
