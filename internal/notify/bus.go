// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
)

// DefaultTopic carries every stored alert.
const DefaultTopic = "security.alerts"

// BusPublisher forwards stored alerts onto a Watermill topic.
type BusPublisher struct {
	publisher message.Publisher
	topic     string
	closers   []func() error

	mu     sync.RWMutex
	closed bool
}

// NewBusPublisher wraps an existing Watermill publisher.
func NewBusPublisher(pub message.Publisher, topic string) *BusPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &BusPublisher{publisher: pub, topic: topic}
}

// NewChannelBus creates an in-process bus. The returned subscriber receives
// what the publisher sends; it is how in-process consumers and tests read
// the alert stream.
func NewChannelBus(topic string) (*BusPublisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, NewWatermillLogger(logging.WithComponent("alertbus")))
	return NewBusPublisher(pubSub, topic), pubSub
}

// Topic returns the topic alerts are published on.
func (b *BusPublisher) Topic() string {
	return b.topic
}

// Publish serializes the alert and publishes it keyed by alert ID.
func (b *BusPublisher) Publish(ctx context.Context, alert *audit.Alert) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("alert bus is closed")
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("serialize alert: %w", err)
	}

	msg := message.NewMessage(alert.AlertID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("alert_type", string(alert.AlertType))
	msg.Metadata.Set("severity", string(alert.Severity))
	msg.Metadata.Set("affected_user", alert.AffectedUser)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set("correlation_id", id)
	}

	if err := b.publisher.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.AlertID, err)
	}
	return nil
}

// Close shuts down the publisher and anything started alongside it.
func (b *BusPublisher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.publisher.Close()
	for i := len(b.closers) - 1; i >= 0; i-- {
		if cerr := b.closers[i](); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// DecodeAlert reads an alert published by BusPublisher.
func DecodeAlert(msg *message.Message) (*audit.Alert, error) {
	var alert audit.Alert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		return nil, fmt.Errorf("decode alert %s: %w", msg.UUID, err)
	}
	return &alert, nil
}
