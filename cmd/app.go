// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"os"

	"github.com/charmbracelet/log"

	"agentbox-cli/internal/container"
	"agentbox-cli/internal/imagecache"
	"agentbox-cli/internal/issue"
	"agentbox-cli/internal/orchestrator"
	"agentbox-cli/internal/profile"
	"agentbox-cli/internal/project"
	"agentbox-cli/internal/provider"
	"agentbox-cli/internal/slot"
)

// app bundles the orchestrator with the resources command handlers need
// to release when done.
type app struct {
	orch     *orchestrator.Orchestrator
	paths    project.Paths
	registry *slot.Registry
	store    *imagecache.SQLiteStore
	cache    *imagecache.Cache
	engine   *container.DockerEngine
	logger   *log.Logger
}

// newApp is the composition root: it connects the runtime, opens the
// stores, and wires the orchestrator. Callers must close the returned
// app.
func newApp() (*app, error) {
	logger := log.New(os.Stderr)
	if verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.WarnLevel)
	}

	paths, err := project.DefaultPaths()
	if err != nil {
		return nil, issue.WrapWithStage(err, issue.StageConfig, "locate agentbox home")
	}
	if err := os.MkdirAll(paths.Root, 0o755); err != nil {
		return nil, issue.WrapWithStage(err, issue.StageConfig, "create agentbox home")
	}

	engine, err := container.NewDockerEngine()
	if err != nil {
		return nil, issue.NewErrorContext().
			WithStage(issue.StageRuntime).
			WithOperation("connect to container runtime").
			WithSuggestion("check that Docker is installed and running").
			Wrap(err).
			BuildError()
	}

	store, err := imagecache.OpenStore(paths.ImageDBPath())
	if err != nil {
		engine.Close()
		return nil, issue.WrapWithStage(err, issue.StageConfig, "open image cache")
	}

	profiles, err := profile.NewStore()
	if err != nil {
		store.Close()
		engine.Close()
		return nil, issue.WrapWithStage(err, issue.StageProfile, "load profile definitions")
	}

	registry := slot.NewRegistry(paths)

	a := &app{
		paths:    paths,
		registry: registry,
		store:    store,
		engine:   engine,
		logger:   logger,
	}
	a.cache = imagecache.New(store, engine, paths.LocksDir(), logger)
	a.orch = orchestrator.New(orchestrator.Options{
		Paths:       paths,
		Registry:    registry,
		Cache:       a.cache,
		Engine:      engine,
		Providers:   provider.Builtin(),
		Compiler:    profile.NewCompiler(profiles),
		Logger:      logger,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		BuildOutput: os.Stderr,
	})
	return a, nil
}

func (a *app) Close() {
	a.store.Close()
	a.engine.Close()
}

// removeCachedImages deletes every image cache entry together with its
// engine image, returning how many were removed.
func (a *app) removeCachedImages(ctx context.Context) (int, error) {
	entries, err := a.cache.Entries()
	if err != nil {
		return 0, issue.WrapWithStage(err, issue.StageRuntime, "list cached images")
	}
	for _, e := range entries {
		if err := a.cache.Remove(ctx, e.Fingerprint); err != nil {
			return 0, issue.WrapWithStage(err, issue.StageRuntime, "remove cached image")
		}
	}
	return len(entries), nil
}

// workdir is the project directory commands operate on: --dir when set,
// the process working directory otherwise.
func workdir(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", issue.WrapWithStage(err, issue.StageConfig, "resolve working directory")
	}
	return dir, nil
}
