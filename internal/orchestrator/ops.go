// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"agentbox-cli/internal/container"
	"agentbox-cli/internal/issue"
	"agentbox-cli/internal/project"
	"agentbox-cli/internal/slot"
)

// Stop stops a slot's container and marks its record stopped. It touches
// only the registry and the runtime, never the build path. Stopping an
// already stopped slot is a no-op.
func (o *Orchestrator) Stop(ctx context.Context, projectDir string, slotNum int) (*slot.Record, error) {
	storage, err := o.storageName(projectDir)
	if err != nil {
		return nil, err
	}

	rec, err := o.opts.Registry.Get(storage, slotNum)
	if err != nil {
		if errors.Is(err, slot.ErrNoRecord) {
			return nil, issue.NewErrorContext().
				WithStage(issue.StageConfig).
				WithOperation("stop slot").
				WithResource(slotRef(slotNum)).
				WithSuggestion("run 'agentbox list' to see active slots").
				Wrap(err).
				BuildError()
		}
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "read slot record")
	}

	rec, err = o.opts.Registry.Reconcile(ctx, o.opts.Engine, rec)
	if err != nil {
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "reconcile slot")
	}
	if rec == nil || rec.Status != slot.StatusRunning {
		return rec, nil
	}

	rec, err = o.opts.Registry.MarkStopped(storage, slotNum)
	if err != nil {
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "record stop")
	}
	if err := o.opts.Engine.StopContainer(ctx, rec.ContainerName, stopTimeout); err != nil && !errors.Is(err, container.ErrNotFound) {
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "stop container")
	}
	return rec, nil
}

// Status returns one slot's reconciled record, nil when the slot is
// absent.
func (o *Orchestrator) Status(ctx context.Context, projectDir string, slotNum int) (*slot.Record, error) {
	storage, err := o.storageName(projectDir)
	if err != nil {
		return nil, err
	}

	rec, err := o.opts.Registry.Get(storage, slotNum)
	if errors.Is(err, slot.ErrNoRecord) {
		return nil, nil
	}
	if err != nil {
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "read slot record")
	}
	rec, err = o.opts.Registry.Reconcile(ctx, o.opts.Engine, rec)
	if err != nil {
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "reconcile slot")
	}
	return rec, nil
}

// List returns all of a project's reconciled slot records.
func (o *Orchestrator) List(ctx context.Context, projectDir string) ([]*slot.Record, error) {
	storage, err := o.storageName(projectDir)
	if err != nil {
		return nil, err
	}
	records, err := o.opts.Registry.ReconcileAll(ctx, o.opts.Engine, storage)
	if err != nil {
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "reconcile slots")
	}
	return records, nil
}

// Cleanup removes a slot from any state: container gone, record gone,
// credentials gone only when purge is set. Cleaning an absent slot
// succeeds, so retrying after a partial failure converges.
func (o *Orchestrator) Cleanup(ctx context.Context, projectDir string, slotNum int, purge bool) error {
	storage, err := o.storageName(projectDir)
	if err != nil {
		return err
	}
	return o.cleanupSlot(ctx, storage, slotNum, purge)
}

// CleanupAll removes every slot of a project.
func (o *Orchestrator) CleanupAll(ctx context.Context, projectDir string, purge bool) error {
	storage, err := o.storageName(projectDir)
	if err != nil {
		return err
	}
	records, err := o.opts.Registry.ListAll(storage)
	if err != nil {
		return issue.WrapWithStage(err, issue.StageRuntime, "list slots")
	}
	for _, rec := range records {
		if err := o.cleanupSlot(ctx, storage, rec.Slot, purge); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) cleanupSlot(ctx context.Context, storage string, slotNum int, purge bool) error {
	rec, err := o.opts.Registry.Get(storage, slotNum)
	if err != nil && !errors.Is(err, slot.ErrNoRecord) {
		return issue.WrapWithStage(err, issue.StageRuntime, "read slot record")
	}
	if rec != nil {
		if err := o.opts.Engine.RemoveContainer(ctx, rec.ContainerName, true); err != nil {
			return issue.WrapWithStage(err, issue.StageRuntime, "remove container")
		}
	}
	if err := o.opts.Registry.Remove(storage, slotNum, purge); err != nil {
		return issue.WrapWithStage(err, issue.StageRuntime, "remove slot record")
	}
	return nil
}

func (o *Orchestrator) storageName(projectDir string) (string, error) {
	identity, err := project.Identify(projectDir)
	if err != nil {
		return "", issue.WrapWithStage(err, issue.StageConfig, "identify project")
	}
	return identity.StorageName(), nil
}

func slotRef(n int) string {
	return fmt.Sprintf("slot %d", n)
}
