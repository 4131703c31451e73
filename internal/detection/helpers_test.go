// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
)

// memCounter applies CountFilter semantics to an in-memory event list.
type memCounter struct {
	mu     sync.Mutex
	events []*audit.Event
	err    error
}

func (c *memCounter) add(events ...*audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

func (c *memCounter) matching(f audit.CountFilter) []*audit.Event {
	var out []*audit.Event
	for _, e := range c.events {
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.SourceIP != "" && e.SourceIP != f.SourceIP {
			continue
		}
		if f.Outcome != "" && e.Outcome != f.Outcome {
			continue
		}
		if len(f.EventTypes) > 0 && !containsString(f.EventTypes, e.EventType) {
			continue
		}
		if f.EventTypeContains != "" && !strings.Contains(e.EventType, f.EventTypeContains) {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
			continue
		}
		if f.ExcludeEventID != "" && e.EventID == f.ExcludeEventID {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (c *memCounter) CountEvents(_ context.Context, f audit.CountFilter) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	return int64(len(c.matching(f))), nil
}

func (c *memCounter) ListEventIDs(_ context.Context, f audit.CountFilter, limit int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	events := c.matching(f)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	var ids []string
	for i, e := range events {
		if i == limit {
			break
		}
		ids = append(ids, e.EventID)
	}
	return ids, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var errCounterDown = errors.New("store unavailable")

// businessNoon is inside default business hours in UTC.
var businessNoon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func utcHours() BusinessHours {
	return BusinessHours{Start: 9, End: 18, Location: time.UTC}
}

var eventSeq int

func newEvent(eventType, user, ip string, ts time.Time) *audit.Event {
	eventSeq++
	return &audit.Event{
		EventID:   fmt.Sprintf("evt-%d", eventSeq),
		Timestamp: ts,
		Category:  audit.CategoryAuthentication,
		EventType: eventType,
		UserID:    user,
		SourceIP:  ip,
		Outcome:   audit.OutcomeSuccess,
	}
}

// panicDetector panics on every check.
type panicDetector struct {
	ruleBase
}

func newPanicDetector(t audit.AlertType) *panicDetector {
	d := &panicDetector{}
	d.init(t)
	return d
}

func (d *panicDetector) Check(context.Context, *audit.Event) (*audit.Alert, error) {
	panic("boom")
}
