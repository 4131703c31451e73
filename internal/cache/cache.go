// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

// Package cache provides a small thread-safe TTL cache. Risk scoring keeps
// its suspicious-IP marks here and the pattern matcher uses it to remember
// recently raised alerts.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Stats tracks cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Keys      int
}

// TTL is a map with per-entry expiry. Expired entries are removed lazily on
// access and by Sweep.
type TTL[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	now     func() time.Time
	stats   Stats
}

// New creates a cache whose entries live for ttl.
func New[V any](ttl time.Duration) *TTL[V] {
	return NewWithClock[V](ttl, time.Now)
}

// NewWithClock is New with an injected time source.
func NewWithClock[V any](ttl time.Duration, now func() time.Time) *TTL[V] {
	if now == nil {
		now = time.Now
	}
	return &TTL[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the value for key if it is present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.stats.Misses++
		c.stats.Evictions++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	return e.value, true
}

// Has reports whether key is present and live.
func (c *TTL[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores value under key with the default TTL.
func (c *TTL[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with a custom TTL.
func (c *TTL[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// SetIfAbsent stores value only when key is missing or expired and reports
// whether it did. The check and the write happen under one lock.
func (c *TTL[V]) SetIfAbsent(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		return false
	}
	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl)}
	return true
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Sweep drops every expired entry and returns how many were removed.
func (c *TTL[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	c.stats.Evictions += int64(removed)
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache statistics.
func (c *TTL[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Keys = len(c.entries)
	return s
}
