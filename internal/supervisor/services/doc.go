// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

/*
Package services adapts components to suture.Service.

Each wrapper translates a component lifecycle into Serve(ctx) error and
implements fmt.Stringer so suture logs name the service:

  - PipelineService: engine RunWithContext; early exits are permanent
  - HTTPServerService: ListenAndServe plus graceful Shutdown
  - GCService: periodic Badger value log GC

Wrappers depend on small interfaces rather than the concrete packages.
*/
package services
