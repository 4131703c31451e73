// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package services

import (
	"context"

	"github.com/thejerf/suture/v4"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
)

// Pipeline is satisfied by *engine.Engine.
type Pipeline interface {
	// RunWithContext processes queued events and alerts until ctx is
	// cancelled, then drains. It can run only once.
	RunWithContext(ctx context.Context) error
}

// PipelineService runs the audit engine under supervision.
type PipelineService struct {
	pipeline Pipeline
	name     string
}

// NewPipelineService wraps p.
func NewPipelineService(p Pipeline) *PipelineService {
	return &PipelineService{pipeline: p, name: "audit-pipeline"}
}

// Serve implements suture.Service. The engine cannot be restarted once it
// has returned, so any early return is reported as ErrDoNotRestart.
func (s *PipelineService) Serve(ctx context.Context) error {
	err := s.pipeline.RunWithContext(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logging.Error().Err(err).Str("service", s.name).Msg("Audit pipeline exited unexpectedly")
	return suture.ErrDoNotRestart
}

// String implements fmt.Stringer for suture logs.
func (s *PipelineService) String() string {
	return s.name
}
