// SPDX-License-Identifier: MPL-2.0

// Package slot persists the per-project slot registry: which numbered
// slot is bound to which provider and container, and where that container
// is in its lifecycle. A slot with no record on disk is absent; every
// recorded slot is in exactly one of the created, running, or stopped
// states. Records are written before the runtime action they describe,
// so after a crash the registry can claim more progress than the runtime
// actually made, never less; reconciliation walks such records back to
// what the runtime reports.
package slot

import (
	"errors"
	"fmt"
	"time"
)

// MaxSlots is the number of slots available per project, numbered 1..MaxSlots.
const MaxSlots = 10

// Status is a slot's lifecycle state.
type Status string

const (
	// StatusCreated means the slot is claimed and its container is being
	// or has been created, but never started.
	StatusCreated Status = "created"
	// StatusRunning means the container was last known running.
	StatusRunning Status = "running"
	// StatusStopped means the container exists but is not running.
	StatusStopped Status = "stopped"
)

var (
	// ErrSlotExhausted is returned when no free slot remains.
	ErrSlotExhausted = errors.New("all slots are in use")
	// ErrProviderConflict is the sentinel error wrapped by
	// ProviderConflictError.
	ErrProviderConflict = errors.New("provider conflict")
	// ErrInvalidTransition is the sentinel error wrapped by
	// InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid slot transition")
	// ErrNoRecord is returned when an operation requires an existing
	// slot record and none is on disk.
	ErrNoRecord = errors.New("slot has no record")
)

type (
	// Record is one slot's persisted registry entry.
	Record struct {
		Project       string    `toml:"project"`
		Slot          int       `toml:"slot"`
		Provider      string    `toml:"provider"`
		ContainerID   string    `toml:"container_id"`
		ContainerName string    `toml:"container_name"`
		Image         string    `toml:"image"`
		Status        Status    `toml:"status"`
		CreatedAt     time.Time `toml:"created_at"`
		LastUsed      time.Time `toml:"last_used"`
		// SessionReady records that the provider's login flow completed
		// for this slot, so later starts skip the auth helper.
		SessionReady bool `toml:"session_ready"`
	}

	// ProviderConflictError reports an attempt to use a slot bound to a
	// different provider.
	ProviderConflictError struct {
		Slot      int
		Existing  string
		Requested string
	}

	// InvalidTransitionError reports a state machine edge that does not
	// exist.
	InvalidTransitionError struct {
		Slot int
		From Status
		To   Status
	}
)

func (e *ProviderConflictError) Error() string {
	return fmt.Sprintf("slot %d is bound to provider %q, not %q", e.Slot, e.Existing, e.Requested)
}

func (e *ProviderConflictError) Unwrap() error { return ErrProviderConflict }

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("slot %d: cannot transition from %s to %s", e.Slot, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// validEdges is the slot state machine. Absence is handled separately:
// Assign creates records, Remove deletes them from any state.
var validEdges = map[Status]map[Status]bool{
	StatusCreated: {StatusRunning: true},
	StatusRunning: {StatusStopped: true},
	StatusStopped: {StatusRunning: true},
}

func checkTransition(slot int, from, to Status) error {
	if validEdges[from][to] {
		return nil
	}
	return &InvalidTransitionError{Slot: slot, From: from, To: to}
}
