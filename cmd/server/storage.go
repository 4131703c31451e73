// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // registers the duckdb driver

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/config"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/deadletter"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/keycustody"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
)

// duckDBDSN builds the connection string. Extension autoloading is off so
// the store never reaches the network.
func duckDBDSN(cfg config.DatabaseConfig) string {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	params := []string{
		"autoinstall_known_extensions=false",
		"autoload_known_extensions=false",
	}
	if path != ":memory:" {
		params = append([]string{"access_mode=read_write"}, params...)
	}
	if cfg.Threads > 0 {
		params = append(params, fmt.Sprintf("threads=%d", cfg.Threads))
	}
	if cfg.MaxMemory != "" {
		params = append(params, "max_memory="+cfg.MaxMemory)
	}
	return path + "?" + strings.Join(params, "&")
}

// openCustody returns nil when no encryption secret is configured.
func openCustody(cfg *config.Config) (audit.KeyCustody, error) {
	if cfg.Encryption.Secret == "" {
		if cfg.Audit.EncryptHighSeverity {
			logging.Warn().Msg("No encryption secret configured: HIGH and CRITICAL event details cannot be sealed")
		}
		return nil, nil
	}
	custody, err := keycustody.New(cfg.Encryption.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key custody: %w", err)
	}
	if err := custody.SelfTest(); err != nil {
		return nil, fmt.Errorf("key custody self-test failed: %w", err)
	}
	return custody, nil
}

// openStore opens DuckDB and prepares the audit schema. custody may be nil.
func openStore(ctx context.Context, cfg *config.Config, custody audit.KeyCustody) (*sql.DB, *audit.DuckDBStore, error) {
	if cfg.Database.Path != "" && cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", duckDBDSN(cfg.Database))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	opts := []audit.StoreOption{
		audit.WithEncryptionPolicy(audit.EncryptionPolicy{
			EncryptHighSeverity:    cfg.Audit.EncryptHighSeverity,
			AllowPlaintextFallback: cfg.Audit.AllowPlaintextFallback,
		}),
	}
	if custody != nil {
		opts = append(opts, audit.WithKeyCustody(custody))
	}

	store := audit.NewDuckDBStore(db, opts...)
	if err := store.CreateSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	logging.Info().Str("path", cfg.Database.Path).Msg("Audit store initialized")
	return db, store, nil
}

// openDeadLetters returns nil when dead-lettering is disabled.
func openDeadLetters(cfg config.DeadLetterConfig) (*deadletter.BadgerStore, error) {
	if !cfg.Enabled {
		logging.Warn().Msg("Dead-letter store disabled: dropped items are only logged")
		return nil, nil
	}
	store, err := deadletter.Open(deadletter.Config{Path: cfg.Path, InMemory: cfg.InMemory})
	if err != nil {
		return nil, fmt.Errorf("failed to open dead-letter store: %w", err)
	}
	logging.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("Dead-letter store opened")
	return store, nil
}
