// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

// Package deadletter keeps a durable record of events and alerts the engine
// gave up on, either after exhausting store retries or because they were
// still queued when the shutdown drain timed out.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
)

// Reasons an item is dead-lettered.
const (
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonShutdown         = "shutdown_drain_timeout"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("dead-letter store is closed")

// Entry is one dropped item.
type Entry struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	ItemID     string          `json:"item_id"`
	Reason     string          `json:"reason"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Config configures the Badger store.
type Config struct {
	Path string
	// InMemory keeps entries in memory only. Path is ignored.
	InMemory bool
	// TTL expires entries. Zero keeps them until deleted.
	TTL time.Duration
}

const keyPrefix = "dead:"

// BadgerStore records dead letters in BadgerDB. Keys sort by record time so
// List returns entries oldest first.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time

	inMemory bool

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store.
func Open(cfg Config) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("Dead-letter store opened")
	return &BadgerStore{db: db, ttl: cfg.TTL, now: time.Now, inMemory: cfg.InMemory}, nil
}

// Record stores an entry built from payload. payload is marshaled as JSON.
func (s *BadgerStore) Record(ctx context.Context, queue, itemID, reason string, attempts int, lastErr error, payload interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	entry := Entry{
		ID:         uuid.NewString(),
		Queue:      queue,
		ItemID:     itemID,
		Reason:     reason,
		Attempts:   attempts,
		Payload:    raw,
		RecordedAt: s.now().UTC(),
	}
	if lastErr != nil {
		entry.LastError = lastErr.Error()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	key := []byte(keyPrefix + entry.RecordedAt.Format("20060102T150405.000000000") + ":" + entry.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("write to BadgerDB: %w", err)
	}
	return nil
}

// List returns up to limit entries, oldest first. limit <= 0 returns all.
func (s *BadgerStore) List(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(entries) >= limit {
				return nil
			}

			item := it.Item()
			var entry Entry
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping unreadable dead-letter entry")
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// RunGC rewrites value log files until Badger reports nothing left to
// reclaim. It is a no-op for in-memory stores.
func (s *BadgerStore) RunGC(ctx context.Context, discardRatio float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if s.inMemory {
		return nil
	}

	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run value log GC: %w", err)
		}
	}
	return ctx.Err()
}

// Close closes the database. It is safe to call more than once.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
