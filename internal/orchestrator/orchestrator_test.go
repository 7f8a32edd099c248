// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentbox-cli/internal/config"
	"agentbox-cli/internal/container"
	"agentbox-cli/internal/imagecache"
	"agentbox-cli/internal/issue"
	"agentbox-cli/internal/profile"
	"agentbox-cli/internal/project"
	"agentbox-cli/internal/provider"
	"agentbox-cli/internal/slot"
)

type harness struct {
	orch       *Orchestrator
	engine     *container.Fake
	registry   *slot.Registry
	paths      project.Paths
	projectDir string
	env        map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	paths := project.Paths{Root: t.TempDir()}
	engine := container.NewFake()
	registry := slot.NewRegistry(paths)

	store, err := imagecache.OpenStore(paths.ImageDBPath())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := log.New(io.Discard)
	cache := imagecache.New(store, engine, paths.LocksDir(), logger)

	profiles, err := profile.NewStore()
	require.NoError(t, err)

	h := &harness{
		engine:     engine,
		registry:   registry,
		paths:      paths,
		projectDir: t.TempDir(),
		env:        map[string]string{},
	}
	h.orch = New(Options{
		Paths:     paths,
		Registry:  registry,
		Cache:     cache,
		Engine:    engine,
		Providers: provider.Builtin(),
		Compiler:  profile.NewCompiler(profiles),
		Logger:    logger,
		LookupEnv: func(name string) (string, bool) {
			v, ok := h.env[name]
			return v, ok
		},
	})
	return h
}

func (h *harness) storage(t *testing.T) string {
	t.Helper()
	id, err := project.Identify(h.projectDir)
	require.NoError(t, err)
	return id.StorageName()
}

func (h *harness) writeProjectConfig(t *testing.T, cfg config.ProjectConfig) {
	t.Helper()
	path := h.paths.ProjectConfigPath(h.storage(t))
	require.NoError(t, config.SaveProject(path, cfg))
}

func TestStartProvisionsAndAttaches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.orch.Start(ctx, StartRequest{
		ProjectDir: h.projectDir,
		Slot:       1,
		Provider:   "claude",
	})
	require.NoError(t, err)
	require.NotNil(t, session.Record)

	assert.Equal(t, 1, h.engine.BuildCount, "exactly one image build")
	assert.Equal(t, "claude", h.engine.LastExec(), "provider CLI ran in the container")
	assert.Equal(t, slot.StatusStopped, session.Record.Status, "session end leaves the slot stopped")
	assert.Equal(t, 0, session.ExitCode)

	// The workspace is mounted and the container held alive.
	opts, ok := h.engine.CreateOptionsFor(session.Record.ContainerName)
	require.True(t, ok)
	assert.Contains(t, opts.Binds[0], ":/workspace")
	assert.Equal(t, []string{"sleep", "infinity"}, opts.Cmd)

	// The project marker points at the storage directory.
	ref, err := project.ReadRef(h.projectDir)
	require.NoError(t, err)
	assert.Equal(t, h.storage(t), ref)
}

func TestStartStopStartReusesContainer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	second, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	assert.Equal(t, first.Record.ContainerID, second.Record.ContainerID, "reuse must keep the container identity")
	assert.Equal(t, 1, h.engine.BuildCount, "reuse must not rebuild")
}

func TestStartProviderConflictLeavesRecordUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)
	before, err := h.registry.Get(h.storage(t), 1)
	require.NoError(t, err)

	_, err = h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "gemini"})
	require.ErrorIs(t, err, slot.ErrProviderConflict)
	assert.Equal(t, 4, issue.ExitCodeFor(err))

	after, err := h.registry.Get(h.storage(t), 1)
	require.NoError(t, err)
	assert.Equal(t, before.Provider, after.Provider)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.ContainerID, after.ContainerID)
}

func TestStartAutoDeleteLeavesSlotAbsent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.orch.Start(ctx, StartRequest{
		ProjectDir: h.projectDir,
		Slot:       1,
		Provider:   "claude",
		AutoDelete: true,
	})
	require.NoError(t, err)
	assert.Nil(t, session.Record, "auto-delete leaves no record")

	_, err = h.registry.Get(h.storage(t), 1)
	assert.ErrorIs(t, err, slot.ErrNoRecord)
	assert.Empty(t, h.engine.ContainerNames(), "auto-delete removes the container")
}

func TestStartAutoDeleteRemoveFailureKeepsRecord(t *testing.T) {
	h := newHarness(t)
	h.engine.FailRemove = errors.New("device or resource busy")

	_, err := h.orch.Start(context.Background(), StartRequest{
		ProjectDir: h.projectDir,
		Slot:       1,
		Provider:   "claude",
		AutoDelete: true,
	})
	require.Error(t, err)

	// The record outlives the failed container removal, keeping the
	// slot visible to a later cleanup.
	rec, err := h.registry.Get(h.storage(t), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ContainerID)
}

func TestStartPicksFreeSlotAutomatically(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Provider: "claude"})
	require.NoError(t, err)
	assert.Equal(t, 1, session.Record.Slot)

	// A second auto-pick with the same provider reuses slot 1.
	session, err = h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Provider: "claude"})
	require.NoError(t, err)
	assert.Equal(t, 1, session.Record.Slot)

	// A different provider lands on the next free slot.
	session, err = h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Provider: "gemini"})
	require.NoError(t, err)
	assert.Equal(t, 2, session.Record.Slot)
}

func TestStartCreateFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.engine.FailCreate = errors.New("no space left on device")

	_, err := h.orch.Start(context.Background(), StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.Error(t, err)
	assert.Equal(t, 1, issue.ExitCodeFor(err))

	_, err = h.registry.Get(h.storage(t), 1)
	assert.ErrorIs(t, err, slot.ErrNoRecord, "failed create must not leave a record")
	assert.Empty(t, h.engine.ContainerNames())
}

func TestStartRunFailureNeverLeavesRunningRecord(t *testing.T) {
	h := newHarness(t)
	h.engine.FailStart = errors.New("cgroup error")

	_, err := h.orch.Start(context.Background(), StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.Error(t, err)

	rec, err := h.registry.Get(h.storage(t), 1)
	if err == nil {
		assert.NotEqual(t, slot.StatusRunning, rec.Status)
	} else {
		assert.ErrorIs(t, err, slot.ErrNoRecord)
	}
}

func TestStartExplicitSlotReconcilesStaleRunningRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	// A crash between the registry write and the container start leaves
	// a running record over a stopped container.
	_, err = h.registry.ForceStatus(h.storage(t), 1, slot.StatusRunning)
	require.NoError(t, err)

	session, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)
	assert.Equal(t, 0, session.ExitCode, "stale record must not degrade the session")
	assert.Equal(t, "claude", h.engine.LastExec(), "the CLI must run in the reconciled container")
	assert.Equal(t, first.Record.ContainerID, session.Record.ContainerID, "reconciliation reuses the container")
	assert.Equal(t, slot.StatusStopped, session.Record.Status)
}

func TestStartExplicitSlotReconcilesVanishedContainer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	h.engine.RemoveOutOfBand(first.Record.ContainerName)

	session, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)
	assert.Equal(t, 0, session.ExitCode)
	assert.NotEqual(t, first.Record.ContainerID, session.Record.ContainerID, "a fresh container replaces the vanished one")
}

func TestStartRecreatesWhenPlanChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	// Changing the profile set changes the fingerprint, so the slot's
	// container must be rebuilt from the new image.
	h.writeProjectConfig(t, config.ProjectConfig{
		Name:     "myproj",
		Profiles: []string{"python"},
	})

	second, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Image, second.Image)
	assert.NotEqual(t, first.Record.ContainerID, second.Record.ContainerID)
	assert.Equal(t, 2, h.engine.BuildCount)
}

func TestStartForwardsProviderEnv(t *testing.T) {
	h := newHarness(t)
	h.env["ANTHROPIC_API_KEY"] = "sk-test"

	session, err := h.orch.Start(context.Background(), StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	opts, ok := h.engine.CreateOptionsFor(session.Record.ContainerName)
	require.True(t, ok)
	assert.Contains(t, opts.Env, "ANTHROPIC_API_KEY=sk-test")
}

func TestStartUnknownProviderFailsEarly(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Start(context.Background(), StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "cursor"})
	require.ErrorIs(t, err, provider.ErrUnknownProvider)
	assert.Equal(t, 2, issue.ExitCodeFor(err))
	assert.Zero(t, h.engine.BuildCount, "provider errors must precede the build")
}

func TestStartUnknownProfileFailsBeforeBuild(t *testing.T) {
	h := newHarness(t)
	h.writeProjectConfig(t, config.ProjectConfig{
		Name:     "myproj",
		Profiles: []string{"fortran"},
	})

	_, err := h.orch.Start(context.Background(), StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.ErrorIs(t, err, profile.ErrUnknownProfile)
	assert.Equal(t, 2, issue.ExitCodeFor(err))
	assert.Zero(t, h.engine.BuildCount)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	rec, err := h.orch.Stop(ctx, h.projectDir, 1)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusStopped, rec.Status)

	rec, err = h.orch.Stop(ctx, h.projectDir, 1)
	require.NoError(t, err)
	assert.Equal(t, slot.StatusStopped, rec.Status)
}

func TestStopAbsentSlotFails(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Stop(context.Background(), h.projectDir, 4)
	require.ErrorIs(t, err, slot.ErrNoRecord)
}

func TestStatusReconcilesDrift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	// Someone removes the container behind the registry's back.
	h.engine.RemoveOutOfBand(session.Record.ContainerName)

	rec, err := h.orch.Status(ctx, h.projectDir, 1)
	require.NoError(t, err)
	assert.Nil(t, rec, "status must report the reconciled absent state")
}

func TestCleanupFromAnyStateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	require.NoError(t, h.orch.Cleanup(ctx, h.projectDir, 1, false))
	_, err = h.registry.Get(h.storage(t), 1)
	assert.ErrorIs(t, err, slot.ErrNoRecord)
	assert.Empty(t, h.engine.ContainerNames())

	// Cleaning an absent slot succeeds.
	require.NoError(t, h.orch.Cleanup(ctx, h.projectDir, 1, false))
}

func TestCleanupAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 2, Provider: "gemini"})
	require.NoError(t, err)

	require.NoError(t, h.orch.CleanupAll(ctx, h.projectDir, false))

	records, err := h.registry.ListAll(h.storage(t))
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, h.engine.ContainerNames())
}

func TestListReturnsReconciledRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 3, Provider: "gemini"})
	require.NoError(t, err)

	records, err := h.orch.List(ctx, h.projectDir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Slot)
	assert.Equal(t, 3, records[1].Slot)
}

func TestProjectsIsolatedByIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	otherDir := t.TempDir()

	_, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	records, err := h.orch.List(ctx, otherDir)
	require.NoError(t, err)
	assert.Empty(t, records, "slots must be namespaced by project identity")
}

func TestProjectsWithSamePlanShareImage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	otherDir := t.TempDir()

	first, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	second, err := h.orch.Start(ctx, StartRequest{ProjectDir: otherDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)

	assert.Equal(t, first.Image, second.Image, "identical plans must resolve to one cached image")
	assert.Equal(t, 1, h.engine.BuildCount, "the second project must not trigger a build")
}

func TestCredentialMountsAreSlotScoped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s1, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 1, Provider: "claude"})
	require.NoError(t, err)
	s2, err := h.orch.Start(ctx, StartRequest{ProjectDir: h.projectDir, Slot: 2, Provider: "claude"})
	require.NoError(t, err)

	o1, _ := h.engine.CreateOptionsFor(s1.Record.ContainerName)
	o2, _ := h.engine.CreateOptionsFor(s2.Record.ContainerName)

	find := func(binds []string) string {
		for _, b := range binds {
			if strings.HasSuffix(b, ":/root/.claude") {
				return b
			}
		}
		return ""
	}
	b1, b2 := find(o1.Binds), find(o2.Binds)
	require.NotEmpty(t, b1)
	require.NotEmpty(t, b2)
	assert.NotEqual(t, b1, b2, "two slots must not share credential directories")
}
