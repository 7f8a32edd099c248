// SPDX-License-Identifier: MPL-2.0

package slot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"

	"agentbox-cli/internal/keyedmutex"
	"agentbox-cli/internal/lockfile"
	"agentbox-cli/internal/project"
)

const recordFileName = "metadata.toml"

// Registry reads and writes slot records under the agentbox home
// directory. Mutating operations serialize per (project, slot) with an
// in-process keyed mutex plus a cross-process flock; operations on
// unrelated slots never wait on each other.
type Registry struct {
	paths project.Paths
	locks *keyedmutex.Map
}

// NewRegistry creates a Registry over paths.
func NewRegistry(paths project.Paths) *Registry {
	return &Registry{paths: paths, locks: keyedmutex.New()}
}

// lock serializes one (project, slot) pair across goroutines and
// processes. The returned func releases both levels.
func (r *Registry) lock(storageName string, slot int) (func(), error) {
	key := fmt.Sprintf("%s/%d", storageName, slot)
	unlock := r.locks.Lock(key)

	if err := os.MkdirAll(r.paths.LocksDir(), 0o755); err != nil {
		unlock()
		return nil, fmt.Errorf("create locks directory: %w", err)
	}
	flk, err := lockfile.Acquire(filepath.Join(r.paths.LocksDir(), fmt.Sprintf("slot-%s-%d.lock", storageName, slot)))
	if err != nil {
		unlock()
		return nil, fmt.Errorf("acquire slot lock: %w", err)
	}
	return func() {
		flk.Release()
		unlock()
	}, nil
}

func (r *Registry) recordPath(storageName string, slot int) string {
	return filepath.Join(r.paths.SlotDir(storageName, slot), recordFileName)
}

// Get returns the record for one slot, or ErrNoRecord when the slot is
// absent.
func (r *Registry) Get(storageName string, slot int) (*Record, error) {
	return r.read(r.recordPath(storageName, slot))
}

func (r *Registry) read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("read slot record: %w", err)
	}
	var rec Record
	if err := toml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse slot record %s: %w", path, err)
	}
	return &rec, nil
}

// write persists a record atomically: full document to a temp file in the
// same directory, then rename over the destination. Readers never observe
// a partially written record.
func (r *Registry) write(rec *Record) error {
	dir := r.paths.SlotDir(rec.Project, rec.Slot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create slot directory: %w", err)
	}

	data, err := toml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode slot record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, recordFileName+".*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write slot record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close slot record: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, recordFileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit slot record: %w", err)
	}
	return nil
}

// Assign claims a slot for a provider. An absent slot gets a fresh record
// in the created state. A slot already bound to the same provider returns
// its existing record untouched; one bound to a different provider
// returns a ProviderConflictError without modifying anything.
func (r *Registry) Assign(storageName string, slot int, provider, containerName string) (*Record, error) {
	unlock, err := r.lock(storageName, slot)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := r.Get(storageName, slot)
	switch {
	case err == nil:
		if existing.Provider != provider {
			return nil, &ProviderConflictError{Slot: slot, Existing: existing.Provider, Requested: provider}
		}
		return existing, nil
	case !errors.Is(err, ErrNoRecord):
		return nil, err
	}

	now := time.Now().UTC()
	rec := &Record{
		Project:       storageName,
		Slot:          slot,
		Provider:      provider,
		ContainerName: containerName,
		Status:        StatusCreated,
		CreatedAt:     now,
		LastUsed:      now,
	}
	if err := r.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkCreated records the container the runtime created for a slot. The
// slot must be in the created state.
func (r *Registry) MarkCreated(storageName string, slot int, containerID, image string) (*Record, error) {
	return r.update(storageName, slot, func(rec *Record) error {
		if rec.Status != StatusCreated {
			return &InvalidTransitionError{Slot: slot, From: rec.Status, To: StatusCreated}
		}
		rec.ContainerID = containerID
		rec.Image = image
		return nil
	})
}

// MarkRunning transitions a slot to running and refreshes its last-used
// time. Valid from created and stopped.
func (r *Registry) MarkRunning(storageName string, slot int) (*Record, error) {
	return r.update(storageName, slot, func(rec *Record) error {
		if err := checkTransition(slot, rec.Status, StatusRunning); err != nil {
			return err
		}
		rec.Status = StatusRunning
		rec.LastUsed = time.Now().UTC()
		return nil
	})
}

// MarkStopped transitions a running slot to stopped.
func (r *Registry) MarkStopped(storageName string, slot int) (*Record, error) {
	return r.update(storageName, slot, func(rec *Record) error {
		if err := checkTransition(slot, rec.Status, StatusStopped); err != nil {
			return err
		}
		rec.Status = StatusStopped
		return nil
	})
}

// MarkSessionReady records a completed provider login for the slot.
func (r *Registry) MarkSessionReady(storageName string, slot int) (*Record, error) {
	return r.update(storageName, slot, func(rec *Record) error {
		rec.SessionReady = true
		return nil
	})
}

// ForceStatus overwrites a slot's status without edge validation. Used by
// reconciliation, where the runtime is the source of truth.
func (r *Registry) ForceStatus(storageName string, slot int, status Status) (*Record, error) {
	return r.update(storageName, slot, func(rec *Record) error {
		rec.Status = status
		return nil
	})
}

func (r *Registry) update(storageName string, slot int, mutate func(*Record) error) (*Record, error) {
	unlock, err := r.lock(storageName, slot)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := r.Get(storageName, slot)
	if err != nil {
		return nil, err
	}
	if err := mutate(rec); err != nil {
		return nil, err
	}
	if err := r.write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Remove deletes a slot's record, returning it to absent. Valid from any
// state; removing an absent slot is a no-op. Credential directories under
// the slot survive unless purgeCredentials is set.
func (r *Registry) Remove(storageName string, slot int, purgeCredentials bool) error {
	unlock, err := r.lock(storageName, slot)
	if err != nil {
		return err
	}
	defer unlock()

	if purgeCredentials {
		if err := os.RemoveAll(r.paths.SlotDir(storageName, slot)); err != nil {
			return fmt.Errorf("remove slot directory: %w", err)
		}
		return nil
	}
	if err := os.Remove(r.recordPath(storageName, slot)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove slot record: %w", err)
	}
	return nil
}

// ListAll returns every recorded slot for a project, ordered by slot
// number.
func (r *Registry) ListAll(storageName string) ([]*Record, error) {
	var out []*Record
	for slot := 1; slot <= MaxSlots; slot++ {
		rec, err := r.Get(storageName, slot)
		if errors.Is(err, ErrNoRecord) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

// NextFree returns the lowest absent slot number, or ErrSlotExhausted
// when every slot is recorded.
func (r *Registry) NextFree(storageName string) (int, error) {
	for slot := 1; slot <= MaxSlots; slot++ {
		_, err := r.Get(storageName, slot)
		if errors.Is(err, ErrNoRecord) {
			return slot, nil
		}
		if err != nil {
			return 0, err
		}
	}
	return 0, ErrSlotExhausted
}
