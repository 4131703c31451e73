// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
)

// mockService fails a configured number of times, then runs until its
// context is cancelled.
type mockService struct {
	name       string
	starts     atomic.Int32
	failsLeft  atomic.Int32
	stoppedCtx atomic.Bool
}

func newMockService(name string, fails int32) *mockService {
	m := &mockService{name: name}
	m.failsLeft.Store(fails)
	return m
}

func (m *mockService) Serve(ctx context.Context) error {
	m.starts.Add(1)
	if m.failsLeft.Add(-1) >= 0 {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	m.stoppedCtx.Store(true)
	return ctx.Err()
}

func (m *mockService) String() string {
	return m.name
}
