// SPDX-License-Identifier: MPL-2.0

// Package orchestrator coordinates one agentbox operation end to end:
// configuration resolution, profile compilation, image acquisition, slot
// registry transitions, container runtime calls, and the provider auth
// sub-flow. Registry transitions are persisted before the runtime call
// they announce, so a crash leaves at worst an optimistic record that
// reconciliation corrects on the next command.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"agentbox-cli/internal/config"
	"agentbox-cli/internal/container"
	"agentbox-cli/internal/imagecache"
	"agentbox-cli/internal/issue"
	"agentbox-cli/internal/profile"
	"agentbox-cli/internal/project"
	"agentbox-cli/internal/provider"
	"agentbox-cli/internal/slot"
)

const (
	containerNamePrefix = "agentbox"
	stopTimeout         = 10 * time.Second
	workspaceDir        = "/workspace"
	containerHome       = "/root"
)

// keepAliveCmd keeps the slot container alive between agent sessions.
var keepAliveCmd = []string{"sleep", "infinity"}

// Options wires an Orchestrator's collaborators.
type Options struct {
	Paths     project.Paths
	Registry  *slot.Registry
	Cache     *imagecache.Cache
	Engine    container.Engine
	Providers *provider.Registry
	Compiler  *profile.Compiler
	Logger    *log.Logger

	// Session IO for interactive attach and login flows.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// BuildOutput receives image build progress. Nil discards it.
	BuildOutput io.Writer

	// LookupEnv resolves host environment variables; defaults to
	// os.LookupEnv. Injected for tests.
	LookupEnv func(string) (string, bool)
}

// Orchestrator executes the top-level slot operations.
type Orchestrator struct {
	opts Options
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Orchestrator{opts: opts}
}

type (
	// StartRequest parameterizes one start operation.
	StartRequest struct {
		ProjectDir string
		// Slot is the requested slot number; zero picks a reusable or
		// free slot automatically.
		Slot     int
		Provider string
		// AutoDelete removes the slot entirely when the session ends
		// instead of leaving it stopped.
		AutoDelete bool
		// Recreate discards the slot's existing container before
		// starting, keeping credentials.
		Recreate bool
	}

	// Session is the outcome of a completed start operation.
	Session struct {
		Record   *slot.Record
		Image    string
		ExitCode int
	}
)

// Start provisions (or reuses) a slot container and attaches the caller
// to the provider's CLI inside it. It returns when the CLI session ends.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Session, error) {
	storage, eff, err := o.resolve(req.ProjectDir)
	if err != nil {
		return nil, err
	}

	prov, err := o.opts.Providers.Get(req.Provider)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithStage(issue.StageConfig).
			WithOperation("select provider").
			WithResource(req.Provider).
			WithSuggestion("supported providers: " + strings.Join(o.opts.Providers.Names(), ", ")).
			Wrap(err).
			BuildError()
	}

	plan, err := o.opts.Compiler.Compile(eff.BaseImage, eff.Profiles, prov.ExtraProfiles)
	if err != nil {
		return nil, issue.WrapWithStage(err, issue.StageProfile, "compile profiles")
	}

	image, err := o.opts.Cache.GetOrBuild(ctx, plan, o.opts.BuildOutput)
	if err != nil {
		return nil, issue.WrapWithStage(err, issue.StageBuild, "acquire image")
	}

	rec, err := o.claimSlot(ctx, storage, req, prov, image)
	if err != nil {
		return nil, err
	}

	rec, err = o.ensureContainer(ctx, storage, rec, req, eff, prov, image)
	if err != nil {
		return nil, err
	}

	if err := o.ensureSession(ctx, storage, rec, prov, image); err != nil {
		return nil, err
	}

	rec, err = o.ensureRunning(ctx, storage, rec)
	if err != nil {
		return nil, err
	}

	exitCode := o.attach(ctx, rec, prov)

	rec, err = o.finish(storage, rec, req.AutoDelete)
	if err != nil {
		return nil, err
	}
	return &Session{Record: rec, Image: image, ExitCode: exitCode}, nil
}

// resolve identifies the project and merges its configuration layers.
func (o *Orchestrator) resolve(projectDir string) (string, config.EffectiveConfig, error) {
	identity, err := project.Identify(projectDir)
	if err != nil {
		return "", config.EffectiveConfig{}, issue.WrapWithStage(err, issue.StageConfig, "identify project")
	}
	storage := identity.StorageName()

	global, err := config.LoadGlobal(o.opts.Paths.GlobalConfigPath())
	if err != nil {
		return "", config.EffectiveConfig{}, issue.WrapWithStage(err, issue.StageConfig, "load global config")
	}

	proj, err := config.LoadProject(o.opts.Paths.ProjectConfigPath(storage))
	if err != nil {
		if !os.IsNotExist(err) {
			return "", config.EffectiveConfig{}, issue.WrapWithStage(err, issue.StageConfig, "load project config")
		}
		proj = config.ProjectConfig{Name: config.SanitizeName(identity.Name)}
	}

	eff, err := config.Resolve(global, proj)
	if err != nil {
		return "", config.EffectiveConfig{}, issue.WrapWithStage(err, issue.StageConfig, "resolve config")
	}

	if err := project.WriteRef(projectDir, storage); err != nil {
		o.opts.Logger.Warn("could not write project marker", "err", err)
	}
	return storage, eff, nil
}

// claimSlot picks and assigns the slot for a start request. A zero slot
// number reuses the lowest slot already bound to the provider, falling
// back to the lowest free one.
func (o *Orchestrator) claimSlot(ctx context.Context, storage string, req StartRequest, prov provider.Provider, image string) (*slot.Record, error) {
	num := req.Slot
	if num == 0 {
		var err error
		num, err = o.pickSlot(ctx, storage, prov.Name)
		if err != nil {
			return nil, issue.WrapWithStage(err, issue.StageConflict, "pick slot")
		}
	}
	if num < 1 || num > slot.MaxSlots {
		return nil, issue.NewErrorContext().
			WithStage(issue.StageConfig).
			WithOperation("validate slot number").
			WithResource(fmt.Sprintf("slot %d", num)).
			WithSuggestion(fmt.Sprintf("slots are numbered 1 through %d", slot.MaxSlots)).
			BuildError()
	}

	rec, err := o.opts.Registry.Assign(storage, num, prov.Name, o.containerName(storage, num))
	if err != nil {
		if errors.Is(err, slot.ErrProviderConflict) {
			return nil, issue.WrapWithStage(err, issue.StageConflict, "assign slot")
		}
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "assign slot")
	}

	// The record is written before the runtime call it announces, so a
	// crash can leave it claiming a state the container never reached.
	// Fold the runtime's view back in before deciding what the slot
	// still needs.
	if rec.ContainerID != "" {
		fixed, err := o.opts.Registry.Reconcile(ctx, o.opts.Engine, rec)
		if err != nil {
			return nil, issue.WrapWithStage(err, issue.StageRuntime, "reconcile slot")
		}
		if fixed == nil {
			fixed, err = o.reassign(storage, num, prov.Name, rec.SessionReady)
			if err != nil {
				return nil, err
			}
		}
		rec = fixed
	}

	// An existing record may point at a container built from an older
	// plan; recreate it so the session runs the requested environment.
	if rec.ContainerID != "" && (req.Recreate || rec.Image != image) {
		if rec.Image != image {
			o.opts.Logger.Info("environment changed, recreating container", "slot", num)
		}
		if err := o.discardContainer(ctx, storage, rec); err != nil {
			return nil, err
		}
		rec, err = o.reassign(storage, num, prov.Name, rec.SessionReady)
		if err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// reassign claims a slot again after its container was discarded. The
// credential store survived the discard, so a previously completed login
// carries over to the fresh record.
func (o *Orchestrator) reassign(storage string, num int, providerName string, sessionReady bool) (*slot.Record, error) {
	rec, err := o.opts.Registry.Assign(storage, num, providerName, o.containerName(storage, num))
	if err != nil {
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "reassign slot")
	}
	if sessionReady {
		rec, err = o.opts.Registry.MarkSessionReady(storage, num)
		if err != nil {
			return nil, issue.WrapWithStage(err, issue.StageRuntime, "record session")
		}
	}
	return rec, nil
}

// pickSlot returns the lowest reconciled slot bound to the provider, or
// the lowest free slot when none is.
func (o *Orchestrator) pickSlot(ctx context.Context, storage, providerName string) (int, error) {
	records, err := o.opts.Registry.ReconcileAll(ctx, o.opts.Engine, storage)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if rec.Provider == providerName {
			return rec.Slot, nil
		}
	}
	return o.opts.Registry.NextFree(storage)
}

// ensureContainer makes sure the slot's container exists, creating it
// from the resolved configuration when absent. A create failure removes
// both the partial container and the slot record before surfacing.
func (o *Orchestrator) ensureContainer(ctx context.Context, storage string, rec *slot.Record, req StartRequest, eff config.EffectiveConfig, prov provider.Provider, image string) (*slot.Record, error) {
	if rec.ContainerID != "" {
		if _, err := o.opts.Engine.Inspect(ctx, rec.ContainerName); err == nil {
			return rec, nil
		} else if !errors.Is(err, container.ErrNotFound) {
			return nil, issue.WrapWithStage(err, issue.StageRuntime, "inspect container")
		}
		// Recorded container vanished out of band; rebuild the slot.
		if err := o.discardContainer(ctx, storage, rec); err != nil {
			return nil, err
		}
		var err error
		rec, err = o.reassign(storage, rec.Slot, prov.Name, rec.SessionReady)
		if err != nil {
			return nil, err
		}
	}

	opts, err := o.createOptions(req.ProjectDir, storage, rec, eff, prov, image)
	if err != nil {
		return nil, err
	}

	id, err := o.opts.Engine.CreateContainer(ctx, opts)
	if err != nil {
		o.rollback(storage, rec)
		return nil, issue.NewErrorContext().
			WithStage(issue.StageRuntime).
			WithOperation("create container").
			WithResource(rec.ContainerName).
			WithSuggestion("check that the container runtime is reachable with 'docker info'").
			Wrap(err).
			BuildError()
	}

	rec, err = o.opts.Registry.MarkCreated(storage, rec.Slot, id, image)
	if err != nil {
		o.rollback(storage, rec)
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "record container")
	}
	return rec, nil
}

// createOptions assembles the container spec: workspace and credential
// mounts, project mounts, forwarded environment, and resource limits.
func (o *Orchestrator) createOptions(projectDir, storage string, rec *slot.Record, eff config.EffectiveConfig, prov provider.Provider, image string) (container.CreateOptions, error) {
	absProject, err := filepath.Abs(projectDir)
	if err != nil {
		return container.CreateOptions{}, issue.WrapWithStage(err, issue.StageConfig, "resolve project path")
	}

	binds := []string{absProject + ":" + workspaceDir}
	credBinds, err := o.credentialBinds(storage, rec.Slot, prov)
	if err != nil {
		return container.CreateOptions{}, err
	}
	binds = append(binds, credBinds...)

	for _, m := range eff.Mounts {
		bind := m.Source + ":" + m.Target
		if m.Mode == config.MountModeReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	env := make([]string, 0, len(eff.Environment)+len(prov.RequiredEnvVars))
	for k, v := range eff.Environment {
		env = append(env, k+"="+v)
	}
	for _, name := range prov.RequiredEnvVars {
		if v, ok := o.opts.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}

	return container.CreateOptions{
		Name:     rec.ContainerName,
		Image:    image,
		Hostname: fmt.Sprintf("%s-%d", containerNamePrefix, rec.Slot),
		WorkDir:  workspaceDir,
		Env:      env,
		Binds:    binds,
		Cmd:      keepAliveCmd,
		Labels: map[string]string{
			"agentbox.project":  storage,
			"agentbox.slot":     fmt.Sprintf("%d", rec.Slot),
			"agentbox.provider": prov.Name,
		},
		Resources: container.Resources{
			CPUs:   float64(eff.Resources.CPUs),
			Memory: eff.Resources.Memory,
		},
	}, nil
}

// credentialBinds mounts the slot's persistent credential store into the
// container home, one bind per provider credential path. Sources are
// created first so the runtime binds the intended kind: paths with an
// extension become files, the rest directories.
func (o *Orchestrator) credentialBinds(storage string, slotNum int, prov provider.Provider) ([]string, error) {
	credRoot := o.opts.Paths.CredentialDir(storage, slotNum, prov.Name)
	binds := make([]string, 0, len(prov.CredentialPaths))
	for _, rel := range prov.CredentialPaths {
		src := filepath.Join(credRoot, rel)
		if filepath.Ext(rel) != "" {
			if err := os.MkdirAll(filepath.Dir(src), 0o700); err != nil {
				return nil, issue.WrapWithStage(err, issue.StageRuntime, "prepare credential store")
			}
			f, err := os.OpenFile(src, os.O_CREATE|os.O_WRONLY, 0o600)
			if err != nil {
				return nil, issue.WrapWithStage(err, issue.StageRuntime, "prepare credential store")
			}
			f.Close()
		} else {
			if err := os.MkdirAll(src, 0o700); err != nil {
				return nil, issue.WrapWithStage(err, issue.StageRuntime, "prepare credential store")
			}
		}
		binds = append(binds, src+":"+filepath.Join(containerHome, rel))
	}
	return binds, nil
}

// ensureRunning drives the slot to running: record first, then the
// runtime start. A failed start walks the record back so it never claims
// a session that does not exist.
func (o *Orchestrator) ensureRunning(ctx context.Context, storage string, rec *slot.Record) (*slot.Record, error) {
	if rec.Status == slot.StatusRunning {
		return rec, nil
	}
	prevStatus := rec.Status

	rec, err := o.opts.Registry.MarkRunning(storage, rec.Slot)
	if err != nil {
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "record start")
	}
	if err := o.opts.Engine.StartContainer(ctx, rec.ContainerName); err != nil {
		if prevStatus == slot.StatusCreated {
			o.rollback(storage, rec)
		} else {
			o.opts.Registry.ForceStatus(storage, rec.Slot, slot.StatusStopped)
		}
		return nil, issue.NewErrorContext().
			WithStage(issue.StageRuntime).
			WithOperation("start container").
			WithResource(rec.ContainerName).
			Wrap(err).
			BuildError()
	}
	return rec, nil
}

// attach runs the provider CLI in the slot container and blocks until it
// exits. Runtime errors during the session degrade to a nonzero exit
// code; the session itself already happened.
func (o *Orchestrator) attach(ctx context.Context, rec *slot.Record, prov provider.Provider) int {
	o.opts.Logger.Info("attaching", "container", rec.ContainerName, "provider", prov.Name)
	code, err := o.opts.Engine.Exec(ctx, rec.ContainerName, container.ExecOptions{
		Cmd:         prov.CLICommand,
		WorkDir:     workspaceDir,
		Interactive: true,
		Stdin:       o.opts.Stdin,
		Stdout:      o.opts.Stdout,
		Stderr:      o.opts.Stderr,
	})
	if err != nil {
		o.opts.Logger.Error("session ended with runtime error", "err", err)
		return 1
	}
	return code
}

// finish settles the slot after a session: stopped for later reuse, or
// absent under auto-delete. Stopping writes the registry before the
// runtime call like every other transition. Deletion removes the
// container first: an interrupted delete then leaves a record over a
// missing container, which the next command reconciles away, rather
// than a container no record points at.
func (o *Orchestrator) finish(storage string, rec *slot.Record, autoDelete bool) (*slot.Record, error) {
	// Use a fresh context: finish must run even after an interrupt
	// cancelled the session context.
	ctx, cancel := context.WithTimeout(context.Background(), 2*stopTimeout)
	defer cancel()

	if autoDelete {
		if err := o.opts.Engine.RemoveContainer(ctx, rec.ContainerName, true); err != nil {
			return nil, issue.WrapWithStage(err, issue.StageRuntime, "remove container")
		}
		if err := o.opts.Registry.Remove(storage, rec.Slot, false); err != nil {
			return nil, issue.WrapWithStage(err, issue.StageRuntime, "remove slot record")
		}
		return nil, nil
	}

	rec, err := o.opts.Registry.MarkStopped(storage, rec.Slot)
	if err != nil {
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "record stop")
	}
	if err := o.opts.Engine.StopContainer(ctx, rec.ContainerName, stopTimeout); err != nil && !errors.Is(err, container.ErrNotFound) {
		return nil, issue.WrapWithStage(err, issue.StageRuntime, "stop container")
	}
	return rec, nil
}

// discardContainer removes a slot's container and record, keeping its
// credentials.
func (o *Orchestrator) discardContainer(ctx context.Context, storage string, rec *slot.Record) error {
	if err := o.opts.Engine.RemoveContainer(ctx, rec.ContainerName, true); err != nil {
		return issue.WrapWithStage(err, issue.StageRuntime, "remove container")
	}
	if err := o.opts.Registry.Remove(storage, rec.Slot, false); err != nil {
		return issue.WrapWithStage(err, issue.StageRuntime, "remove slot record")
	}
	return nil
}

// rollback best-effort clears a partially provisioned slot after a failed
// step: the container (if any) and the record go away, credentials stay.
func (o *Orchestrator) rollback(storage string, rec *slot.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*stopTimeout)
	defer cancel()
	if err := o.opts.Engine.RemoveContainer(ctx, rec.ContainerName, true); err != nil {
		o.opts.Logger.Warn("rollback: remove container", "err", err)
	}
	if err := o.opts.Registry.Remove(storage, rec.Slot, false); err != nil {
		o.opts.Logger.Warn("rollback: remove slot record", "err", err)
	}
}

func (o *Orchestrator) containerName(storage string, slotNum int) string {
	return fmt.Sprintf("%s-%s-%d", containerNamePrefix, storage, slotNum)
}
