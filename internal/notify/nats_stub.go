// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

//go:build !nats

package notify

import (
	"context"
	"fmt"
	"time"
)

// NATSConfig configures JetStream alert forwarding.
type NATSConfig struct {
	URL      string
	Topic    string
	StoreDir string
	Stream   string
	MaxAge   time.Duration
}

// NATSAvailable reports whether this binary was built with NATS support.
const NATSAvailable = false

// NewNATSBus returns an error when NATS dependencies are not available.
// Build with -tags=nats to enable JetStream forwarding.
func NewNATSBus(_ context.Context, _ NATSConfig) (*BusPublisher, error) {
	return nil, fmt.Errorf("NATS alert bus not available: build with -tags=nats")
}
