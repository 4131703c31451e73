// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package audit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStorage matches every *StorageError via errors.Is.
	ErrStorage = errors.New("storage failure")

	// ErrEncryption is returned when details must be sealed and cannot be.
	ErrEncryption = errors.New("encryption failure")

	// ErrNotFound is returned for unknown event or alert IDs.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyAcknowledged is returned when acknowledging twice.
	ErrAlreadyAcknowledged = errors.New("alert already acknowledged")

	// ErrDashboardUnavailable is returned when no dashboard section could be computed.
	ErrDashboardUnavailable = errors.New("dashboard unavailable")
)

// ValidationError reports malformed ingestion input. Nothing is enqueued
// when it is returned.
type ValidationError struct {
	Fields  []string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid audit event: " + e.Message
	}
	return fmt.Sprintf("invalid audit event (%s): %s", strings.Join(e.Fields, ", "), e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StorageError wraps a failed store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError wraps err for op. A nil err returns nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// PatternError reports a failed threat-pattern evaluation.
type PatternError struct {
	Pattern AlertType
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("pattern %s: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }
