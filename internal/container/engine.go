// SPDX-License-Identifier: MPL-2.0

// Package container abstracts the container runtime behind the Engine
// interface. The production implementation talks to the Docker daemon
// through its API client; tests substitute the in-memory Fake.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is the sentinel error wrapped by NotFoundError.
var ErrNotFound = errors.New("not found")

// Engine is the container runtime surface the orchestrator depends on.
// All operations are addressable by container name as well as ID.
type Engine interface {
	// Ping verifies the daemon is reachable.
	Ping(ctx context.Context) error

	// ImageExists reports whether the image reference resolves locally.
	ImageExists(ctx context.Context, ref string) (bool, error)
	// BuildImage builds an image from a Dockerfile context directory.
	BuildImage(ctx context.Context, opts BuildOptions) error
	// RemoveImage removes a local image.
	RemoveImage(ctx context.Context, ref string) error
	// PullImage pulls an image from its registry.
	PullImage(ctx context.Context, ref string) error

	// CreateContainer creates a container without starting it.
	CreateContainer(ctx context.Context, opts CreateOptions) (string, error)
	// StartContainer starts a created or stopped container.
	StartContainer(ctx context.Context, name string) error
	// StopContainer stops a running container, waiting up to timeout.
	StopContainer(ctx context.Context, name string, timeout time.Duration) error
	// RemoveContainer removes a container. Removing an absent container
	// is not an error.
	RemoveContainer(ctx context.Context, name string, force bool) error
	// Inspect returns the observed state of a container. Absent
	// containers yield a NotFoundError.
	Inspect(ctx context.Context, name string) (*State, error)

	// Exec runs a command inside a running container and returns its
	// exit code.
	Exec(ctx context.Context, name string, opts ExecOptions) (int, error)
	// RunEphemeral creates, starts, and waits for a short-lived
	// container, removing it regardless of outcome. Returns the
	// container's exit code.
	RunEphemeral(ctx context.Context, opts EphemeralOptions) (int, error)
}

type (
	// BuildOptions describes one image build.
	BuildOptions struct {
		// ContextDir is the build context directory containing the
		// Dockerfile.
		ContextDir string
		// Tag is the image tag applied on success.
		Tag string
		// Output receives incremental build log lines. Nil discards
		// them.
		Output io.Writer
	}

	// Resources bounds a container's CPU and memory use.
	Resources struct {
		// CPUs is the CPU quota in whole or fractional cores. Zero
		// means unbounded.
		CPUs float64
		// Memory is a human-readable limit such as "2g". Empty means
		// unbounded.
		Memory string
	}

	// CreateOptions describes a long-lived container to create.
	CreateOptions struct {
		Name     string
		Image    string
		Hostname string
		WorkDir  string
		Env      []string
		// Binds are host mounts in "host:container[:opts]" form.
		Binds     []string
		Cmd       []string
		Labels    map[string]string
		Resources Resources
	}

	// ExecOptions describes a command run inside a running container.
	ExecOptions struct {
		Cmd     []string
		WorkDir string
		Env     []string
		// Interactive attaches the caller's stdin and allocates a TTY
		// when stdin is a terminal.
		Interactive bool
		Stdin       io.Reader
		Stdout      io.Writer
		Stderr      io.Writer
	}

	// EphemeralOptions describes a run-and-remove container, used for
	// provider login flows that need the host network to receive
	// OAuth callbacks.
	EphemeralOptions struct {
		Name  string
		Image string
		Cmd   []string
		Env   []string
		Binds []string
		// HostNetwork shares the host network namespace so localhost
		// callback listeners inside the container are reachable. Only
		// honored by Linux daemons.
		HostNetwork bool
		// PublishPort binds the given container TCP port to the same
		// port on the host loopback interface. Used instead of
		// HostNetwork where the daemon does not support it.
		PublishPort int
		Interactive bool
		Stdin       io.Reader
		Stdout      io.Writer
		Stderr      io.Writer
	}

	// State is the engine's observed view of one container.
	State struct {
		ID        string
		Name      string
		Image     string
		Running   bool
		ExitCode  int
		StartedAt time.Time
	}

	// NotFoundError reports an operation against an absent container
	// or image.
	NotFoundError struct {
		Kind string
		Name string
	}

	// RuntimeError wraps a failed engine operation with the operation
	// name and the resource it targeted.
	RuntimeError struct {
		Op       string
		Resource string
		Err      error
	}
)

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Resource, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func runtimeErr(op, resource string, err error) error {
	return &RuntimeError{Op: op, Resource: resource, Err: err}
}
