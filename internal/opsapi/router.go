// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

/*
Package opsapi serves the read-only operations surface of the audit pipeline.

Routes:

	GET /healthz             liveness
	GET /readyz              readiness (pipeline running and store reachable)
	GET /metrics             Prometheus scrape
	GET /api/v1/dashboard    security dashboard (?hours=24)
	GET /api/v1/alerts       stored alerts (?type=&severity=&user=&acknowledged=&limit=&offset=)
	GET /api/v1/stats        engine counters and queue depths

Everything under /api/v1 is CORS-gated and rate-limited per client IP.
*/
package opsapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/config"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/engine"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/metrics"
)

// Pipeline is the part of the engine the API reads from.
type Pipeline interface {
	GetSecurityDashboard(ctx context.Context, hours int) (*audit.Dashboard, error)
	ListAlerts(ctx context.Context, filter audit.AlertFilter) ([]audit.Alert, error)
	Stats() engine.Stats
}

// ReadyFunc reports whether backing resources are reachable.
type ReadyFunc func(ctx context.Context) error

// Handler holds the route handlers.
type Handler struct {
	pipeline Pipeline
	ready    ReadyFunc
}

// NewHandler returns handlers for p. A nil ready is treated as always ready.
func NewHandler(p Pipeline, ready ReadyFunc) *Handler {
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	return &Handler{pipeline: p, ready: ready}
}

// NewRouter builds the chi router for h.
func NewRouter(cfg config.ServerConfig, h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(correlationID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// cors treats an empty origin list as "*", so skip it entirely.
		if len(cfg.CORSOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: cfg.CORSOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
				ExposedHeaders: []string{"X-Request-ID"},
				MaxAge:         300,
			}))
		}
		if cfg.RateLimitRequests > 0 {
			r.Use(httprate.Limit(
				cfg.RateLimitRequests,
				cfg.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					respondError(w, r, http.StatusTooManyRequests, &APIError{
						Code:    CodeRateLimited,
						Message: "rate limit exceeded",
					}, nil)
				}),
			))
		}
		if cfg.Timeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.Timeout))
		}

		r.Get("/dashboard", h.Dashboard)
		r.Get("/alerts", h.Alerts)
		r.Get("/stats", h.Stats)
	})

	return r
}

// NewServer wraps handler in an http.Server bound to cfg.Host:cfg.Port.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      cfg.Timeout + 5*time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// correlationID reuses the chi request ID as the logging correlation ID.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := chimiddleware.GetReqID(ctx); id != "" {
			ctx = logging.ContextWithCorrelationID(ctx, id)
		} else {
			ctx = logging.ContextWithNewCorrelationID(ctx)
		}
		w.Header().Set("X-Request-ID", logging.CorrelationIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument counts responses by route pattern and logs them at debug level.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordAPIRequest(route, status)
		logging.Ctx(r.Context()).Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}
