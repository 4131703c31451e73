// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/config"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/engine"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/enrich"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/opsapi"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/supervisor"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error().Err(err).Msg("GuardianShield exited with error")
		stop()
		os.Exit(1)
	}
	logging.Info().Msg("GuardianShield stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int("retention_days", cfg.Audit.RetentionDays).
		Bool("encrypt_high_severity", cfg.Audit.EncryptHighSeverity).
		Msg("Starting GuardianShield audit pipeline")

	custody, err := openCustody(cfg)
	if err != nil {
		return err
	}
	db, store, err := openStore(ctx, cfg, custody)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	deadLetters, err := openDeadLetters(cfg.DeadLetter)
	if err != nil {
		return err
	}
	if deadLetters != nil {
		defer func() {
			if err := deadLetters.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing dead-letter store")
			}
		}()
	}

	bus, err := openBus(ctx, cfg.Notify.Bus)
	if err != nil {
		return err
	}
	if bus != nil {
		defer func() {
			if err := bus.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing alert bus")
			}
		}()
	}

	opts := engine.Options{
		Store:     store,
		Enricher:  enrich.New(nil, enrich.Config{Timeout: cfg.Audit.EnrichTimeout}),
		Notifiers: buildNotifiers(cfg.Notify),
		Custody:   custody,
	}
	if bus != nil {
		opts.Bus = bus
	}
	if deadLetters != nil {
		opts.DeadLetters = deadLetters
	}

	eng, err := engine.New(cfg, opts)
	if err != nil {
		return err
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})

	tree.AddPipelineService(services.NewPipelineService(eng))
	if deadLetters != nil && !cfg.DeadLetter.InMemory {
		tree.AddStorageService(services.NewGCService("deadletter-gc", deadLetters, 0))
	}
	if cfg.Server.Enabled {
		handler := opsapi.NewRouter(cfg.Server, opsapi.NewHandler(eng, db.PingContext))
		server := opsapi.NewServer(cfg.Server, handler)
		tree.AddAPIService(services.NewHTTPServerService("ops-api", server, 0))
		logging.Info().Str("addr", server.Addr).Msg("Ops API enabled")
	}

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	stats := eng.Stats()
	logging.Info().
		Int64("ingested", stats.Ingested).
		Int64("persisted", stats.Persisted).
		Int64("alerts_stored", stats.AlertsStored).
		Int64("dropped", stats.TotalDropped()).
		Msg("Pipeline shut down")

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		for _, s := range report {
			logging.Warn().Str("service", s.Name).Msg("Service did not stop within the shutdown timeout")
		}
	}
	return err
}
