// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

/*
Package supervisor runs the long-lived parts of the process under a suture v4
supervisor tree.

	guardianshield
	├── storage-layer
	│   └── GCService (dead-letter value log GC, when on disk)
	├── pipeline-layer
	│   └── PipelineService (audit engine)
	└── api-layer
	    └── HTTPServerService (ops API, when enabled)

Crashed services restart with suture's backoff. Lifecycle events are logged
through sutureslog using the zerolog-backed slog handler from the logging
package.

The pipeline service is not restarted once the engine returns: an engine
drains its queues on shutdown and cannot run again. ShutdownTimeout must
therefore be longer than the engine drain timeout, or suture abandons the
drain and reports the pipeline in UnstoppedServiceReport.

Usage:

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	tree.AddPipelineService(services.NewPipelineService(eng))
	tree.AddAPIService(services.NewHTTPServerService("ops-api", srv, 10*time.Second))
	err := tree.Serve(ctx)
*/
package supervisor
