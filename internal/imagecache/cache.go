// SPDX-License-Identifier: MPL-2.0

package imagecache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"agentbox-cli/internal/container"
	"agentbox-cli/internal/keyedmutex"
	"agentbox-cli/internal/lockfile"
	"agentbox-cli/internal/profile"
)

const (
	imageTagPrefix = "agentbox-"
	buildAttempts  = 3
	buildBackoff   = 2 * time.Second
)

// BuildError reports a failed image build. No cache entry is recorded for
// a failed build, so a later request re-attempts it.
type BuildError struct {
	Fingerprint string
	Err         error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build image for fingerprint %.12s: %v", e.Fingerprint, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Cache resolves build plans to image references, building on miss.
type Cache struct {
	store    Store
	engine   container.Engine
	locks    *keyedmutex.Map
	locksDir string
	logger   *log.Logger
}

// New creates a Cache. locksDir holds the cross-process build lock files.
func New(store Store, engine container.Engine, locksDir string, logger *log.Logger) *Cache {
	return &Cache{
		store:    store,
		engine:   engine,
		locks:    keyedmutex.New(),
		locksDir: locksDir,
		logger:   logger,
	}
}

// ImageTag returns the content-addressed tag for a plan.
func ImageTag(plan *profile.BuildPlan) string {
	return imageTagPrefix + plan.ShortFingerprint()
}

// GetOrBuild returns the image reference for plan, building it when no
// usable cached image exists. Concurrent calls with the same fingerprint
// serialize on a per-fingerprint lock so exactly one of them builds;
// distinct fingerprints build in parallel. output receives build progress
// lines, nil discards them.
func (c *Cache) GetOrBuild(ctx context.Context, plan *profile.BuildPlan, output io.Writer) (string, error) {
	// Fast path without the lock.
	if ref, ok, err := c.lookup(ctx, plan.Fingerprint); err != nil {
		return "", err
	} else if ok {
		return ref, nil
	}

	unlock := c.locks.Lock(plan.Fingerprint)
	defer unlock()

	if err := os.MkdirAll(c.locksDir, 0o755); err != nil {
		return "", fmt.Errorf("create locks directory: %w", err)
	}
	flk, err := lockfile.Acquire(filepath.Join(c.locksDir, "build-"+plan.ShortFingerprint()+".lock"))
	if err != nil {
		return "", fmt.Errorf("acquire build lock: %w", err)
	}
	defer flk.Release()

	// Another holder may have built while this caller waited.
	if ref, ok, err := c.lookup(ctx, plan.Fingerprint); err != nil {
		return "", err
	} else if ok {
		return ref, nil
	}

	tag := ImageTag(plan)
	c.logger.Info("building image", "tag", tag, "layers", len(plan.Layers))
	if err := c.build(ctx, plan, tag, output); err != nil {
		return "", &BuildError{Fingerprint: plan.Fingerprint, Err: err}
	}

	if err := c.store.Put(Entry{Fingerprint: plan.Fingerprint, ImageRef: tag}); err != nil {
		return "", err
	}
	c.logger.Info("image built", "tag", tag)
	return tag, nil
}

// lookup returns a cached reference only when the image still exists in
// the engine. A stale entry whose image was removed out of band does not
// count as a hit.
func (c *Cache) lookup(ctx context.Context, fingerprint string) (string, bool, error) {
	entry, ok, err := c.store.Get(fingerprint)
	if err != nil || !ok {
		return "", false, err
	}
	exists, err := c.engine.ImageExists(ctx, entry.ImageRef)
	if err != nil {
		return "", false, err
	}
	if !exists {
		c.logger.Warn("cached image missing from engine, rebuilding", "image", entry.ImageRef)
		return "", false, nil
	}
	return entry.ImageRef, true, nil
}

func (c *Cache) build(ctx context.Context, plan *profile.BuildPlan, tag string, output io.Writer) error {
	dir, err := os.MkdirTemp("", "agentbox-build-*")
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer os.RemoveAll(dir)

	dockerfile := Dockerfile(plan)
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return fmt.Errorf("write Dockerfile: %w", err)
	}

	return container.RetryTransient(ctx, buildAttempts, buildBackoff, func() error {
		return c.engine.BuildImage(ctx, container.BuildOptions{
			ContextDir: dir,
			Tag:        tag,
			Output:     output,
		})
	})
}

// Dockerfile renders a plan into a Dockerfile document.
func Dockerfile(plan *profile.BuildPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", plan.BaseImage)
	b.WriteString("ENV DEBIAN_FRONTEND=noninteractive\n")
	for _, layer := range plan.Layers {
		b.WriteString(layer.Instruction)
		b.WriteByte('\n')
	}
	b.WriteString("WORKDIR /workspace\n")
	return b.String()
}

// Remove deletes a cache entry and its engine image. Removing an absent
// entry or image is not an error.
func (c *Cache) Remove(ctx context.Context, fingerprint string) error {
	entry, ok, err := c.store.Get(fingerprint)
	if err != nil {
		return err
	}
	if ok {
		if err := c.engine.RemoveImage(ctx, entry.ImageRef); err != nil {
			return err
		}
	}
	return c.store.Delete(fingerprint)
}

// Entries lists all cache entries.
func (c *Cache) Entries() ([]Entry, error) {
	return c.store.List()
}
