// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Fake is an in-memory Engine for tests. It tracks images and container
// states and records operations; hooks let tests inject failures and
// delays at specific points.
type Fake struct {
	mu         sync.Mutex
	images     map[string]bool
	containers map[string]*fakeContainer
	nextID     int

	// BuildCount is the number of completed BuildImage calls.
	BuildCount int
	// EphemeralRuns records the options of every RunEphemeral call.
	EphemeralRuns []EphemeralOptions
	// ExecCalls records the commands run through Exec.
	ExecCalls [][]string

	// BuildHook, when set, runs inside BuildImage before the image is
	// registered. Returning an error fails the build.
	BuildHook func(opts BuildOptions) error
	// ExecHook, when set, decides the exit code and error of Exec calls.
	ExecHook func(name string, opts ExecOptions) (int, error)
	// EphemeralExit is the exit code RunEphemeral reports.
	EphemeralExit int
	// FailCreate makes CreateContainer fail, for rollback tests.
	FailCreate error
	// FailStart makes StartContainer fail.
	FailStart error
	// FailRemove makes RemoveContainer fail.
	FailRemove error
}

type fakeContainer struct {
	id        string
	image     string
	running   bool
	exitCode  int
	startedAt time.Time
	opts      CreateOptions
}

var _ Engine = (*Fake)(nil)

// NewFake returns an empty Fake engine.
func NewFake() *Fake {
	return &Fake{
		images:     make(map[string]bool),
		containers: make(map[string]*fakeContainer),
	}
}

// AddImage registers an image as locally present.
func (f *Fake) AddImage(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[ref] = true
}

// DropImage unregisters an image, simulating out-of-band removal.
func (f *Fake) DropImage(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.images, ref)
}

// ContainerNames returns the names of all containers the fake knows.
func (f *Fake) ContainerNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.containers))
	for name := range f.containers {
		names = append(names, name)
	}
	return names
}

// CreateOptionsFor returns the options a container was created with.
func (f *Fake) CreateOptionsFor(name string) (CreateOptions, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return CreateOptions{}, false
	}
	return c.opts, true
}

// SetRunning force-sets a container's running flag, simulating state
// drift behind the registry's back.
func (f *Fake) SetRunning(name string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		c.running = running
	}
}

// RemoveOutOfBand deletes a container without going through the Engine
// surface, simulating "docker rm" behind the registry's back.
func (f *Fake) RemoveOutOfBand(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
}

func (f *Fake) Ping(context.Context) error { return nil }

func (f *Fake) ImageExists(_ context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[ref], nil
}

func (f *Fake) BuildImage(_ context.Context, opts BuildOptions) error {
	if f.BuildHook != nil {
		if err := f.BuildHook(opts); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[opts.Tag] = true
	f.BuildCount++
	return nil
}

func (f *Fake) RemoveImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.images, ref)
	return nil
}

func (f *Fake) PullImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[ref] = true
	return nil
}

func (f *Fake) CreateContainer(_ context.Context, opts CreateOptions) (string, error) {
	if f.FailCreate != nil {
		return "", f.FailCreate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.containers[opts.Name]; exists {
		return "", runtimeErr("create container", opts.Name, fmt.Errorf("name already in use"))
	}
	f.nextID++
	id := fmt.Sprintf("fake-%04d", f.nextID)
	f.containers[opts.Name] = &fakeContainer{id: id, image: opts.Image, opts: opts}
	return id, nil
}

func (f *Fake) StartContainer(_ context.Context, name string) error {
	if f.FailStart != nil {
		return f.FailStart
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return &NotFoundError{Kind: "container", Name: name}
	}
	c.running = true
	c.startedAt = time.Now()
	return nil
}

func (f *Fake) StopContainer(_ context.Context, name string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return &NotFoundError{Kind: "container", Name: name}
	}
	c.running = false
	return nil
}

func (f *Fake) RemoveContainer(_ context.Context, name string, force bool) error {
	if f.FailRemove != nil {
		return f.FailRemove
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return nil
	}
	if c.running && !force {
		return runtimeErr("remove container", name, fmt.Errorf("container is running"))
	}
	delete(f.containers, name)
	return nil
}

func (f *Fake) Inspect(_ context.Context, name string) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return nil, &NotFoundError{Kind: "container", Name: name}
	}
	return &State{
		ID:        c.id,
		Name:      name,
		Image:     c.image,
		Running:   c.running,
		ExitCode:  c.exitCode,
		StartedAt: c.startedAt,
	}, nil
}

func (f *Fake) Exec(_ context.Context, name string, opts ExecOptions) (int, error) {
	f.mu.Lock()
	c, ok := f.containers[name]
	running := ok && c.running
	f.ExecCalls = append(f.ExecCalls, opts.Cmd)
	f.mu.Unlock()

	if !ok {
		return -1, &NotFoundError{Kind: "container", Name: name}
	}
	if !running {
		return -1, runtimeErr("exec", name, fmt.Errorf("container is not running"))
	}
	if f.ExecHook != nil {
		return f.ExecHook(name, opts)
	}
	return 0, nil
}

func (f *Fake) RunEphemeral(_ context.Context, opts EphemeralOptions) (int, error) {
	f.mu.Lock()
	f.EphemeralRuns = append(f.EphemeralRuns, opts)
	exit := f.EphemeralExit
	f.mu.Unlock()
	if exit != 0 {
		return exit, nil
	}
	return 0, nil
}

// LastExec returns the most recent Exec command as one string, "" when
// none ran.
func (f *Fake) LastExec() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ExecCalls) == 0 {
		return ""
	}
	return strings.Join(f.ExecCalls[len(f.ExecCalls)-1], " ")
}
