// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFakeContainerLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	id, err := f.CreateContainer(ctx, CreateOptions{Name: "box-1", Image: "img"})
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if id == "" {
		t.Fatal("empty container ID")
	}

	state, err := f.Inspect(ctx, "box-1")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if state.Running {
		t.Error("created container reported running")
	}

	if err := f.StartContainer(ctx, "box-1"); err != nil {
		t.Fatalf("StartContainer: %v", err)
	}
	state, _ = f.Inspect(ctx, "box-1")
	if !state.Running {
		t.Error("started container reported not running")
	}

	if err := f.StopContainer(ctx, "box-1", time.Second); err != nil {
		t.Fatalf("StopContainer: %v", err)
	}
	if err := f.RemoveContainer(ctx, "box-1", false); err != nil {
		t.Fatalf("RemoveContainer: %v", err)
	}

	if _, err := f.Inspect(ctx, "box-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestFakeRemoveAbsentContainerIsIdempotent(t *testing.T) {
	f := NewFake()
	if err := f.RemoveContainer(context.Background(), "never-created", true); err != nil {
		t.Errorf("removing absent container: %v", err)
	}
}

func TestFakeDuplicateNameRejected(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	if _, err := f.CreateContainer(ctx, CreateOptions{Name: "dup", Image: "img"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := f.CreateContainer(ctx, CreateOptions{Name: "dup", Image: "img"}); err == nil {
		t.Error("duplicate name accepted")
	}
}

func TestFakeExecRequiresRunningContainer(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.CreateContainer(ctx, CreateOptions{Name: "idle", Image: "img"})

	if _, err := f.Exec(ctx, "idle", ExecOptions{Cmd: []string{"true"}}); err == nil {
		t.Error("exec on stopped container succeeded")
	}

	f.StartContainer(ctx, "idle")
	code, err := f.Exec(ctx, "idle", ExecOptions{Cmd: []string{"true"}})
	if err != nil || code != 0 {
		t.Errorf("exec on running container: code=%d err=%v", code, err)
	}
}
