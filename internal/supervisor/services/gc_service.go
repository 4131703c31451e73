// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package services

import (
	"context"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
)

// GarbageCollector is satisfied by *deadletter.BadgerStore.
type GarbageCollector interface {
	RunGC(ctx context.Context, discardRatio float64) error
}

// GCService periodically reclaims space in a Badger-backed store.
type GCService struct {
	store        GarbageCollector
	interval     time.Duration
	discardRatio float64
	name         string
}

// NewGCService runs store.RunGC every interval. Zero interval means 10m.
func NewGCService(name string, store GarbageCollector, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{store: store, interval: interval, discardRatio: 0.5, name: name}
}

// Serve implements suture.Service. GC failures are logged and retried on the
// next tick.
func (s *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.RunGC(ctx, s.discardRatio); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Str("service", s.name).Msg("Value log GC failed")
			}
		}
	}
}

// String implements fmt.Stringer for suture logs.
func (s *GCService) String() string {
	return s.name
}
