// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package enrich

import (
	"os"
	"runtime"
	"strings"

	"github.com/mssola/useragent"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
)

// HostInfo describes the host running the engine.
type HostInfo struct {
	Hostname string
	Runtime  string
}

// LocalHost reads host details once.
func LocalHost() HostInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return HostInfo{
		Hostname: hostname,
		Runtime:  runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// SystemInfo combines host details with what the user agent reveals about
// the client.
func (h HostInfo) SystemInfo(userAgent string) *audit.SystemInfo {
	info := &audit.SystemInfo{
		Hostname: h.Hostname,
		Runtime:  h.Runtime,
	}
	if strings.TrimSpace(userAgent) == "" {
		return info
	}

	ua := useragent.New(userAgent)
	info.Browser, info.BrowserVersion = ua.Browser()
	info.OS = ua.OS()
	info.Platform = ua.Platform()
	info.Mobile = ua.Mobile()
	info.Bot = ua.Bot()
	return info
}
