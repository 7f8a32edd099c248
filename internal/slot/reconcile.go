// SPDX-License-Identifier: MPL-2.0

package slot

import (
	"context"
	"errors"

	"agentbox-cli/internal/container"
)

// Reconcile compares a record against the runtime's view of its container
// and corrects the record when they disagree. A crash between a registry
// write and the runtime action it announced, or out-of-band docker
// commands, can leave records stale; the runtime is the source of truth.
//
// Returns the corrected record, or nil when the container no longer
// exists and the record was removed.
func (r *Registry) Reconcile(ctx context.Context, engine container.Engine, rec *Record) (*Record, error) {
	state, err := engine.Inspect(ctx, rec.ContainerName)
	if errors.Is(err, container.ErrNotFound) {
		if rmErr := r.Remove(rec.Project, rec.Slot, false); rmErr != nil {
			return nil, rmErr
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case state.Running && rec.Status != StatusRunning:
		return r.ForceStatus(rec.Project, rec.Slot, StatusRunning)
	case !state.Running && rec.Status == StatusRunning:
		return r.ForceStatus(rec.Project, rec.Slot, StatusStopped)
	case !state.Running && rec.Status == StatusCreated && !state.StartedAt.IsZero():
		// The container ran at some point, so "created" undersells it.
		return r.ForceStatus(rec.Project, rec.Slot, StatusStopped)
	}
	return rec, nil
}

// ReconcileAll reconciles every recorded slot of a project and returns
// the surviving records.
func (r *Registry) ReconcileAll(ctx context.Context, engine container.Engine, storageName string) ([]*Record, error) {
	records, err := r.ListAll(storageName)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		fixed, err := r.Reconcile(ctx, engine, rec)
		if err != nil {
			return nil, err
		}
		if fixed != nil {
			out = append(out, fixed)
		}
	}
	return out, nil
}
