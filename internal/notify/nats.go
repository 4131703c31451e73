// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

//go:build nats

package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
)

// NATSConfig configures JetStream alert forwarding.
type NATSConfig struct {
	// URL of an external server. Empty starts an embedded server.
	URL      string
	Topic    string
	StoreDir string
	// Stream is the JetStream stream holding the topic.
	Stream   string
	MaxAge   time.Duration
}

// NATSAvailable reports whether this binary was built with NATS support.
const NATSAvailable = true

// NewNATSBus publishes alerts to JetStream, starting an embedded server when
// no URL is configured.
func NewNATSBus(ctx context.Context, cfg NATSConfig) (*BusPublisher, error) {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Stream == "" {
		cfg.Stream = "SECURITY_ALERTS"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}

	var closers []func() error
	url := cfg.URL
	if url == "" {
		ns, err := startEmbeddedServer(cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		url = ns.ClientURL()
		closers = append(closers, func() error {
			ns.Shutdown()
			ns.WaitForShutdown()
			return nil
		})
	}

	if err := ensureStream(ctx, url, cfg); err != nil {
		closeAll(closers)
		return nil, err
	}

	logger := NewWatermillLogger(logging.WithComponent("alertbus"))
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL: url,
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(time.Second),
		},
		Marshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	bus := NewBusPublisher(pub, cfg.Topic)
	bus.closers = closers
	logging.Info().Str("url", url).Str("topic", cfg.Topic).Str("stream", cfg.Stream).
		Msg("Alert bus publishing to NATS JetStream")
	return bus, nil
}

func startEmbeddedServer(storeDir string) (*server.Server, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "guardianshield-alerts",
		Host:       "127.0.0.1",
		Port:       server.RANDOM_PORT,
		JetStream:  true,
		StoreDir:   storeDir,
		MaxPayload: 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	ns.ConfigureLogger()
	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}
	return ns, nil
}

func ensureStream(ctx context.Context, url string, cfg NATSConfig) error {
	nc, err := natsgo.Connect(url)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Topic},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    cfg.MaxAge,
		Storage:   jetstream.FileStorage,
		Discard:   jetstream.DiscardOld,
	}

	_, err = js.Stream(ctx, cfg.Stream)
	switch {
	case err == nil:
		_, err = js.UpdateStream(ctx, streamCfg)
	case errors.Is(err, jetstream.ErrStreamNotFound):
		_, err = js.CreateStream(ctx, streamCfg)
	}
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}
	return nil
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
}
