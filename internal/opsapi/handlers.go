// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package opsapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/validation"
)

const (
	defaultDashboardHours = 24
	defaultAlertLimit     = 100
)

// alertsRequest holds the /api/v1/alerts query parameters.
type alertsRequest struct {
	AlertType    string `json:"type" validate:"omitempty,oneof=brute_force privilege_escalation data_exfiltration suspicious_location off_hours_access"`
	Severity     string `json:"severity" validate:"omitempty,oneof=INFO LOW MEDIUM HIGH CRITICAL"`
	User         string `json:"user" validate:"max=256"`
	Acknowledged string `json:"acknowledged" validate:"omitempty,oneof=true false"`
	Limit        int    `json:"limit" validate:"min=1,max=1000"`
	Offset       int    `json:"offset" validate:"min=0"`
}

func (req *alertsRequest) filter() audit.AlertFilter {
	f := audit.AlertFilter{
		AlertType:    audit.AlertType(req.AlertType),
		Severity:     audit.AlertLevel(req.Severity),
		AffectedUser: req.User,
		Limit:        req.Limit,
		Offset:       req.Offset,
	}
	if req.Acknowledged != "" {
		ack := req.Acknowledged == "true"
		f.Acknowledged = &ack
	}
	return f
}

// Health always answers 200 while the process serves HTTP.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, time.Now(), map[string]string{"status": "ok"})
}

// Ready answers 503 once the pipeline has stopped or the store is unreachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.pipeline.Stats().Stopped {
		respondError(w, r, http.StatusServiceUnavailable, &APIError{
			Code:    CodeNotReady,
			Message: "pipeline is shutting down",
		}, nil)
		return
	}
	if err := h.ready(r.Context()); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, &APIError{
			Code:    CodeNotReady,
			Message: "store unreachable",
		}, err)
		return
	}
	respondData(w, r, start, map[string]string{"status": "ready"})
}

// Dashboard serves GetSecurityDashboard for ?hours=.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	hours, err := intParam(r, "hours", defaultDashboardHours)
	if err != nil {
		respondValidation(w, r, err)
		return
	}

	d, err := h.pipeline.GetSecurityDashboard(r.Context(), hours)
	if err != nil {
		respondPipelineError(w, r, err)
		return
	}
	respondData(w, r, start, d)
}

// Alerts lists stored alerts, newest first.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()

	limit, err := intParam(r, "limit", defaultAlertLimit)
	if err != nil {
		respondValidation(w, r, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		respondValidation(w, r, err)
		return
	}

	req := alertsRequest{
		AlertType:    q.Get("type"),
		Severity:     strings.ToUpper(q.Get("severity")),
		User:         q.Get("user"),
		Acknowledged: strings.ToLower(q.Get("acknowledged")),
		Limit:        limit,
		Offset:       offset,
	}
	if err := validation.ValidateStruct(&req); err != nil {
		respondValidation(w, r, err)
		return
	}

	alerts, err := h.pipeline.ListAlerts(r.Context(), req.filter())
	if err != nil {
		respondPipelineError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []audit.Alert{}
	}
	respondData(w, r, start, alerts)
}

// Stats serves the engine counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	stats := h.pipeline.Stats()
	respondData(w, r, start, map[string]interface{}{
		"engine":        stats,
		"total_dropped": stats.TotalDropped(),
	})
}

// paramError reports a query parameter that is not an integer.
type paramError struct {
	name  string
	value string
}

func (e *paramError) Error() string {
	return fmt.Sprintf("%s must be an integer, got %q", e.name, e.value)
}

func intParam(r *http.Request, key string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, &paramError{name: key, value: value}
	}
	return n, nil
}

func respondValidation(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := &APIError{Code: CodeValidation, Message: err.Error()}

	var pe *paramError
	var rve *validation.RequestValidationError
	var ve *audit.ValidationError
	switch {
	case errors.As(err, &pe):
		apiErr.Details = map[string]interface{}{pe.name: err.Error()}
	case errors.As(err, &rve):
		details := make(map[string]interface{}, len(rve.Fields))
		for _, f := range rve.Fields {
			details[f.Field] = f.Message
		}
		apiErr.Details = details
	case errors.As(err, &ve):
		apiErr.Message = ve.Message
		details := make(map[string]interface{}, len(ve.Fields))
		for _, f := range ve.Fields {
			details[f] = ve.Message
		}
		apiErr.Details = details
	}
	respondError(w, r, http.StatusBadRequest, apiErr, nil)
}

func respondPipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *audit.ValidationError
	switch {
	case errors.As(err, &ve):
		respondValidation(w, r, err)
	case errors.Is(err, audit.ErrDashboardUnavailable):
		respondError(w, r, http.StatusServiceUnavailable, &APIError{
			Code:    CodeUnavailable,
			Message: "dashboard unavailable",
		}, err)
	default:
		respondError(w, r, http.StatusInternalServerError, &APIError{
			Code:    CodeInternal,
			Message: "internal error",
		}, err)
	}
}
