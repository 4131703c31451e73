// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
)

// HTTPServer is satisfied by *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server under supervision and shuts it down
// gracefully when the supervisor stops.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

// NewHTTPServerService wraps server. shutdownTimeout bounds the wait for
// open connections; zero means 10s.
func NewHTTPServerService(name string, server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	if name == "" {
		name = "http-server"
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout, name: name}
}

// Serve implements suture.Service. A listener failure is returned so the
// supervisor restarts the service; http.ErrServerClosed is not a failure.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := h.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s: %w", h.name, err)
		}
		return nil
	case <-ctx.Done():
	}

	// ctx is already cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.shutdownTimeout)
	defer cancel()
	if err := h.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Str("service", h.name).Msg("HTTP server shutdown incomplete")
		return fmt.Errorf("%s shutdown: %w", h.name, err)
	}
	<-errCh
	return ctx.Err()
}

// String implements fmt.Stringer for suture logs.
func (h *HTTPServerService) String() string {
	return h.name
}
