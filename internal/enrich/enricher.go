// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

// Package enrich attaches best-effort geolocation and system information to
// audit events at ingestion. Enrichment never fails an event: lookups that
// error or time out leave the field absent.
package enrich

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/cache"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/metrics"
)

// Config tunes the enricher.
type Config struct {
	// Timeout bounds one geolocation lookup.
	Timeout time.Duration
	// CacheTTL keeps lookup results, including misses, for this long.
	CacheTTL time.Duration
}

// DefaultConfig returns a 500ms lookup timeout and a one hour cache.
func DefaultConfig() Config {
	return Config{Timeout: 500 * time.Millisecond, CacheTTL: time.Hour}
}

// Enricher fills Geolocation and SystemInfo on events.
type Enricher struct {
	geo     audit.Geolocator
	cfg     Config
	lookups *cache.TTL[*audit.Geolocation]
	host    HostInfo
}

// New creates an enricher. geo may be nil, in which case only local
// addresses get a location.
func New(geo audit.Geolocator, cfg Config) *Enricher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Enricher{
		geo:     geo,
		cfg:     cfg,
		lookups: cache.New[*audit.Geolocation](cfg.CacheTTL),
		host:    LocalHost(),
	}
}

// Sweep drops expired lookup results.
func (e *Enricher) Sweep() int {
	return e.lookups.Sweep()
}

// Enrich sets event.Geolocation and event.SystemInfo when they are absent.
func (e *Enricher) Enrich(ctx context.Context, event *audit.Event) {
	if event.Geolocation == nil && event.SourceIP != "" {
		event.Geolocation = e.Locate(ctx, event.SourceIP)
	}
	if event.SystemInfo == nil {
		event.SystemInfo = e.host.SystemInfo(event.UserAgent)
	}
}

// Locate resolves ip. It returns nil when the address is unknown or the
// lookup failed.
func (e *Enricher) Locate(ctx context.Context, ip string) *audit.Geolocation {
	ip = NormalizeIP(ip)
	if IsLocalIP(ip) {
		return &audit.Geolocation{Country: "Local", City: "Local Network"}
	}
	if e.geo == nil {
		return nil
	}
	if geo, ok := e.lookups.Get(ip); ok {
		return geo
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	geo, err := e.geo.Lookup(lookupCtx, ip)
	if err != nil {
		metrics.EnrichmentFailures.WithLabelValues("geolocation").Inc()
		logging.Ctx(ctx).Debug().Err(err).Str("source_ip", ip).Msg("Geolocation lookup failed, continuing without location")
		return nil
	}
	e.lookups.Set(ip, geo)
	return geo
}

// IsLocalIP reports whether ip is private, loopback or link-local.
func IsLocalIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}

// NormalizeIP strips a port and IPv6 brackets.
func NormalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return strings.Trim(ip, "[]")
}
