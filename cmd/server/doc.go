// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

/*
Package main runs the GuardianShield audit pipeline as a standalone service.

The process is a Suture v4 tree:

	RootSupervisor ("guardianshield")
	├── StorageSupervisor ("storage-layer")
	│   └── dead-letter value-log GC (on-disk store only)
	├── PipelineSupervisor ("pipeline-layer")
	│   └── audit-pipeline (event processor, alert processor, maintenance)
	└── APISupervisor ("api-layer")
	    └── ops HTTP server (/healthz, /readyz, /metrics, /api/v1/...)

Initialization order:

 1. Configuration: koanf v2 (defaults, config.yaml, GUARDIAN_* variables)
 2. Logging: zerolog with JSON or console output
 3. Store: DuckDB, with details sealed by the AES-GCM key custody adapter
 4. Dead letters: BadgerDB
 5. Alert delivery: log notifier, optional webhook, optional message bus
 6. Engine and supervisor tree

# Build Tags

	go build ./cmd/server               # in-process alert bus
	go build -tags nats ./cmd/server    # NATS JetStream alert bus

# Signal Handling

SIGINT and SIGTERM cancel the tree. The pipeline stops accepting events,
drains its queues up to audit.drain_timeout, and dead-letters anything left.
The bus, dead-letter store, and database are closed after the tree returns.
*/
package main
