// SPDX-License-Identifier: MPL-2.0

package imagecache

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"agentbox-cli/internal/container"
	"agentbox-cli/internal/profile"
)

func testPlan(base string, layers ...string) *profile.BuildPlan {
	store := profile.NewStoreFrom(profile.Definition{
		Name:           "python",
		Versions:       []string{"3.12"},
		DefaultVersion: "3.12",
		Layers:         layers,
	})
	plan, err := profile.NewCompiler(store).Compile(base, []string{"python"}, nil)
	if err != nil {
		panic(err)
	}
	return plan
}

func newTestCache(t *testing.T, engine container.Engine) *Cache {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "images.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, engine, t.TempDir(), log.New(io.Discard))
}

func TestGetOrBuildBuildsOnMiss(t *testing.T) {
	engine := container.NewFake()
	cache := newTestCache(t, engine)
	plan := testPlan("debian:bookworm-slim", "RUN install-python ${VERSION}")

	ref, err := cache.GetOrBuild(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("GetOrBuild: %v", err)
	}
	if want := "agentbox-" + plan.ShortFingerprint(); ref != want {
		t.Errorf("image ref = %q, want %q", ref, want)
	}
	if engine.BuildCount != 1 {
		t.Errorf("expected 1 build, got %d", engine.BuildCount)
	}
}

func TestGetOrBuildHitSkipsBuild(t *testing.T) {
	engine := container.NewFake()
	cache := newTestCache(t, engine)
	plan := testPlan("debian:bookworm-slim", "RUN install-python ${VERSION}")

	if _, err := cache.GetOrBuild(context.Background(), plan, nil); err != nil {
		t.Fatalf("first GetOrBuild: %v", err)
	}
	if _, err := cache.GetOrBuild(context.Background(), plan, nil); err != nil {
		t.Fatalf("second GetOrBuild: %v", err)
	}
	if engine.BuildCount != 1 {
		t.Errorf("cache hit triggered a rebuild: %d builds", engine.BuildCount)
	}
}

// Concurrent requests for the same fingerprint must produce exactly one
// build; the rest wait and reuse the result.
func TestGetOrBuildAtMostOneConcurrentBuild(t *testing.T) {
	engine := container.NewFake()
	engine.BuildHook = func(container.BuildOptions) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}
	cache := newTestCache(t, engine)
	plan := testPlan("debian:bookworm-slim", "RUN install-python ${VERSION}")

	const workers = 8
	refs := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refs[i], errs[i] = cache.GetOrBuild(context.Background(), plan, nil)
		}()
	}
	wg.Wait()

	for i := range workers {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if refs[i] != refs[0] {
			t.Errorf("worker %d got ref %q, want %q", i, refs[i], refs[0])
		}
	}
	if engine.BuildCount != 1 {
		t.Errorf("expected exactly 1 build, got %d", engine.BuildCount)
	}
}

func TestGetOrBuildRebuildsWhenImageRemovedOutOfBand(t *testing.T) {
	engine := container.NewFake()
	cache := newTestCache(t, engine)
	plan := testPlan("debian:bookworm-slim", "RUN install-python ${VERSION}")

	ref, err := cache.GetOrBuild(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("GetOrBuild: %v", err)
	}

	engine.DropImage(ref)

	if _, err := cache.GetOrBuild(context.Background(), plan, nil); err != nil {
		t.Fatalf("GetOrBuild after drop: %v", err)
	}
	if engine.BuildCount != 2 {
		t.Errorf("expected rebuild after out-of-band removal, got %d builds", engine.BuildCount)
	}
}

func TestGetOrBuildFailureLeavesNoEntry(t *testing.T) {
	engine := container.NewFake()
	boom := errors.New("E: Unable to locate package libfoo")
	engine.BuildHook = func(container.BuildOptions) error { return boom }
	cache := newTestCache(t, engine)
	plan := testPlan("debian:bookworm-slim", "RUN install-python ${VERSION}")

	_, err := cache.GetOrBuild(context.Background(), plan, nil)
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %v", err)
	}

	// A failed build must not poison the cache: clearing the fault and
	// retrying builds again and succeeds.
	engine.BuildHook = nil
	if _, err := cache.GetOrBuild(context.Background(), plan, nil); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestDistinctFingerprintsGetDistinctImages(t *testing.T) {
	engine := container.NewFake()
	cache := newTestCache(t, engine)

	p1 := testPlan("debian:bookworm-slim", "RUN install-python ${VERSION}")
	p2 := testPlan("ubuntu:24.04", "RUN install-python ${VERSION}")

	r1, err := cache.GetOrBuild(context.Background(), p1, nil)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := cache.GetOrBuild(context.Background(), p2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r1 == r2 {
		t.Errorf("distinct plans mapped to the same image %q", r1)
	}
	if engine.BuildCount != 2 {
		t.Errorf("expected 2 builds, got %d", engine.BuildCount)
	}
}

func TestDockerfileRendering(t *testing.T) {
	plan := testPlan("debian:bookworm-slim", "RUN install-python ${VERSION}")
	doc := Dockerfile(plan)

	if !strings.HasPrefix(doc, "FROM debian:bookworm-slim\n") {
		t.Errorf("Dockerfile missing FROM line:\n%s", doc)
	}
	if !strings.Contains(doc, "RUN install-python 3.12\n") {
		t.Errorf("Dockerfile missing layer instruction:\n%s", doc)
	}
	if !strings.Contains(doc, "WORKDIR /workspace\n") {
		t.Errorf("Dockerfile missing workdir:\n%s", doc)
	}
}

func TestRemoveDeletesEntryAndImage(t *testing.T) {
	engine := container.NewFake()
	cache := newTestCache(t, engine)
	plan := testPlan("debian:bookworm-slim", "RUN install-python ${VERSION}")

	ref, err := cache.GetOrBuild(context.Background(), plan, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := cache.Remove(context.Background(), plan.Fingerprint); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	exists, _ := engine.ImageExists(context.Background(), ref)
	if exists {
		t.Error("engine image survived Remove")
	}
	entries, err := cache.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("cache entry survived Remove: %+v", entries)
	}

	// Removing again is idempotent.
	if err := cache.Remove(context.Background(), plan.Fingerprint); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}
