// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
)

// BusinessHours is a half-open hour range [Start, End) in Location.
type BusinessHours struct {
	Start    int
	End      int
	Location *time.Location
}

// DefaultBusinessHours is 09:00 to 18:00 local time.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{Start: 9, End: 18, Location: time.Local}
}

// Contains reports whether ts falls inside business hours.
func (h BusinessHours) Contains(ts time.Time) bool {
	loc := h.Location
	if loc == nil {
		loc = time.Local
	}
	hour := ts.In(loc).Hour()
	return hour >= h.Start && hour < h.End
}

var offHoursEventTypes = map[string]bool{
	"login_success": true,
	"system_access": true,
}

// OffHoursDetector flags logins and system access outside business hours.
type OffHoursDetector struct {
	ruleBase
	hours BusinessHours
}

// NewOffHoursDetector creates an off-hours detector for the given hours.
func NewOffHoursDetector(hours BusinessHours) *OffHoursDetector {
	d := &OffHoursDetector{hours: hours}
	d.init(audit.AlertOffHoursAccess)
	return d
}

// Check judges the event timestamp, not the wall clock.
func (d *OffHoursDetector) Check(_ context.Context, event *audit.Event) (*audit.Alert, error) {
	rule, enabled := d.snapshot()
	if !enabled || !offHoursEventTypes[event.EventType] {
		return nil, nil
	}
	if d.hours.Contains(event.Timestamp) {
		return nil, nil
	}

	loc := d.hours.Location
	if loc == nil {
		loc = time.Local
	}
	description := fmt.Sprintf(
		"User %s %s at %s, outside business hours %02d:00-%02d:00",
		event.UserID, event.EventType, event.Timestamp.In(loc).Format("15:04 MST"),
		d.hours.Start, d.hours.End,
	)
	return d.candidate(rule, event, description, nil), nil
}
