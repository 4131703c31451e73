// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package main

import (
	"context"
	"fmt"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/config"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/notify"
)

func buildNotifiers(cfg config.NotifyConfig) []audit.Notifier {
	var notifiers []audit.Notifier
	if cfg.Log {
		notifiers = append(notifiers, notify.NewLogNotifier())
	}
	if cfg.Webhook.Enabled {
		notifiers = append(notifiers, notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:             cfg.Webhook.URL,
			Timeout:         cfg.Webhook.Timeout,
			RateLimitPerMin: cfg.Webhook.RateLimitPerMin,
		}))
		logging.Info().Str("url", cfg.Webhook.URL).Msg("Webhook notifications enabled")
	}
	return notifiers
}

// openBus returns nil when forwarding is disabled. Binaries built with the
// nats tag publish to JetStream; others use the in-process channel bus.
func openBus(ctx context.Context, cfg config.BusConfig) (*notify.BusPublisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if !notify.NATSAvailable {
		if cfg.URL != "" {
			logging.Warn().Str("url", cfg.URL).Msg("NATS URL configured but binary built without nats tag; using in-process bus")
		}
		bus, _ := notify.NewChannelBus(cfg.Topic)
		logging.Info().Str("topic", bus.Topic()).Msg("Alert bus enabled (in-process)")
		return bus, nil
	}

	bus, err := notify.NewNATSBus(ctx, notify.NATSConfig{
		URL:      cfg.URL,
		Topic:    cfg.Topic,
		StoreDir: cfg.StoreDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start NATS alert bus: %w", err)
	}
	logging.Info().Str("topic", bus.Topic()).Str("url", cfg.URL).Msg("Alert bus enabled (NATS JetStream)")
	return bus, nil
}
