package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by adapters when a locator no longer exists.
	ErrNotFound = errors.New("document not found")
	// ErrSyncInFlight is returned when a pair already has a sync running.
	ErrSyncInFlight = errors.New("sync already in flight for pair")
)

// ConfigError is an invalid configuration. Fatal at startup.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: invalid %q: %s", e.Key, e.Reason)
}

// AdapterError wraps a failed remote call. Subdivided per platform through
// the wrapped error, handled uniformly by the sync core.
type AdapterError struct {
	Platform string
	Op       string
	Locator  string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %s %s: %v", e.Platform, e.Op, e.Locator, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// ConflictError reports a detected conflict. It is a first-class decision
// outcome, not a failure: always surfaced, never silently swallowed.
type ConflictError struct {
	Path       string
	LocalHash  string
	RemoteHash string
	BaseHash   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict detected for %s", e.Path)
}

// SyncError is a generic transfer failure scoped to one pair.
type SyncError struct {
	Path string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Path, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// CorruptStateError means the metadata store failed validation on load.
// Fatal: requires manual recovery, never auto-repaired.
type CorruptStateError struct {
	Path   string
	Reason string
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt metadata state at %s: %s", e.Path, e.Reason)
}
