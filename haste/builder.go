/*
Copyright © 2025 The Hastemap Authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package haste

import (
	"fmt"
	"sync"

	"hastemap.dev/hastemap/cmd/config"
	"hastemap.dev/hastemap/crawl"
	"hastemap.dev/hastemap/internal/logging"
	"hastemap.dev/hastemap/internal/platform"
	"hastemap.dev/hastemap/snapshot"
	"hastemap.dev/hastemap/worker"
)

// State is a Builder's position in its state machine (spec §4.8).
type State int

const (
	StateIdle State = iota
	StateReading
	StateCrawling
	StateExtracting
	StatePersisting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateReading:
		return "Reading"
	case StateCrawling:
		return "Crawling"
	case StateExtracting:
		return "Extracting"
	case StatePersisting:
		return "Persisting"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// BuildResult is what a completed Build() run produces: the raw
// Snapshot, its delta against the prior build, and the public views
// (C10) a caller should use instead of touching the Snapshot directly.
// Watcher is non-nil only when the config enables watch mode — the
// builder hands the Snapshot off to it per spec §4.8.
type BuildResult struct {
	Snapshot   snapshot.Snapshot
	Changed    []string
	Removed    []string
	UsedDaemon bool
	FS         *FS
	Map        *Map
	Watcher    *Watcher
}

// Builder drives the Idle -> Reading -> Crawling -> Extracting ->
// Persisting -> Done state machine of spec §4.8. It is idempotent: once
// a Build() has started, repeated calls observe the same in-flight or
// completed result rather than starting a second build.
type Builder struct {
	cfg       *config.HasteConfig
	fs        platform.FileSystem
	facade    *crawl.Facade
	cachePath string
	cache     *snapshot.Cache

	mu      sync.Mutex
	state   State
	started bool
	done    chan struct{}
	result  BuildResult
	err     error
}

// NewBuilder wires a Builder from a resolved config and cache path. fsys
// and probe are injectable for tests; production callers pass
// platform.NewOSFileSystem() and nil (DefaultDaemonProbe).
func NewBuilder(cfg *config.HasteConfig, fsys platform.FileSystem, probe crawl.DaemonProbe, cachePath string) *Builder {
	return &Builder{
		cfg:       cfg,
		fs:        fsys,
		facade:    crawl.NewFacade(fsys, probe),
		cachePath: cachePath,
		cache:     snapshot.NewCache(fsys),
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// State reports the builder's current state.
func (b *Builder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Build runs the full state machine exactly once; subsequent calls block
// until the first completes and then return its memoized result (spec
// §4.8 "idempotent").
func (b *Builder) Build() (BuildResult, error) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		<-b.done
		return b.result, b.err
	}
	b.started = true
	b.mu.Unlock()

	result, err := b.run()

	b.mu.Lock()
	b.result, b.err = result, err
	b.state = StateDone
	b.mu.Unlock()
	close(b.done)

	return result, err
}

func (b *Builder) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	logging.Debug("haste builder: -> %s", s)
}

func (b *Builder) run() (BuildResult, error) {
	b.setState(StateReading)
	prior := b.cache.Read(b.cachePath)

	ignore, err := b.buildIgnoreMatcher()
	if err != nil {
		return BuildResult{}, fmt.Errorf("build ignore matcher: %w", err)
	}

	b.setState(StateCrawling)
	crawlResult, err := b.crawlAll(prior, ignore)
	if err != nil {
		return BuildResult{}, fmt.Errorf("crawl: %w", err)
	}

	b.setState(StateExtracting)
	if err := b.extract(crawlResult); err != nil {
		return BuildResult{}, fmt.Errorf("extract: %w", err)
	}

	result := BuildResult{
		Snapshot:   crawlResult.snapshot,
		Changed:    crawlResult.changed,
		Removed:    crawlResult.removed,
		UsedDaemon: crawlResult.usedDaemon,
	}
	result.FS = HasteFS(result.Snapshot.Files, b.cfg.RootDir)
	result.Map = ModuleMap(result.Snapshot.Modules, result.Snapshot.Mocks, result.Snapshot.Duplicates, b.cfg.RootDir)

	b.setState(StatePersisting)
	if result.Changed == nil || len(result.Changed) > 0 || len(result.Removed) > 0 {
		if err := b.cache.Write(b.cachePath, result.Snapshot); err != nil {
			return BuildResult{}, fmt.Errorf("persist snapshot: %w", err)
		}
	}

	if b.cfg.Watch {
		result.Watcher = NewWatcher(b.cfg, b.fs, ignore, nil, result.Snapshot)
	}

	return result, nil
}

type crawlOutcome struct {
	snapshot   snapshot.Snapshot
	changed    []string
	removed    []string
	usedDaemon bool
}

// crawlAll dispatches through the crawler facade (which runs the
// configured roots concurrently, see crawl.NativeCrawl) and folds
// removed paths out of the module/mock registries.
func (b *Builder) crawlAll(prior snapshot.Snapshot, ignore *crawl.Matcher) (crawlOutcome, error) {
	req := crawl.Request{
		Roots:                  b.cfg.Roots,
		RootDir:                b.cfg.RootDir,
		Extensions:             b.cfg.Extensions,
		Ignore:                 ignore,
		ComputeSha1:            b.cfg.ComputeSha1,
		EnableSymlinks:         b.cfg.EnableSymlinks,
		ForceNodeFilesystemAPI: b.cfg.ForceNodeFilesystemAPI,
		Prior:                  prior,
	}

	result, err := b.facade.Crawl(req, b.cfg.UseWatchman)
	if err != nil {
		return crawlOutcome{}, err
	}

	for _, relPath := range result.Removed {
		entry, wasKnown := prior.Files[relPath]
		delete(result.Snapshot.Files, relPath)
		if wasKnown && entry.HasteID != "" {
			NewRegistry(result.Snapshot.Modules, result.Snapshot.Duplicates, b.cfg.ThrowOnModuleCollision).
				RemoveBinding(entry.HasteID, bindingPlatform(relPath, b.cfg.Platforms), relPath)
		}
		if b.cfg.MocksPattern != "" {
			if reg, err := NewMockRegistry(result.Snapshot.Mocks, b.cfg.MocksPattern, b.cfg.ThrowOnModuleCollision); err == nil {
				reg.Unregister(relPath)
			}
		}
	}

	return crawlOutcome{
		snapshot:   result.Snapshot,
		changed:    result.Changed,
		removed:    result.Removed,
		usedDaemon: result.UsedDaemon,
	}, nil
}

func (b *Builder) buildIgnoreMatcher() (*crawl.Matcher, error) {
	var hasteIgnore string
	if content, err := b.fs.ReadFile(b.cfg.RootDir + "/.hasteignore"); err == nil {
		hasteIgnore = string(content)
	}
	return crawl.NewMatcher(crawl.Options{
		Pattern:            b.cfg.IgnorePattern,
		HasteIgnoreContent: hasteIgnore,
		RetainAllFiles:     b.cfg.RetainAllFiles,
	})
}

func (b *Builder) extract(outcome crawlOutcome) error {
	inBand := worker.NewInBand(b.fs, nil, nil, b.cfg.Platforms)
	exec := worker.NewExecutor(b.cfg.MaxWorkers, false, inBand)
	defer exec.Cleanup()

	var mockRegistry *MockRegistry
	if b.cfg.MocksPattern != "" {
		reg, err := NewMockRegistry(outcome.snapshot.Mocks, b.cfg.MocksPattern, b.cfg.ThrowOnModuleCollision)
		if err != nil {
			return fmt.Errorf("compile mocksPattern: %w", err)
		}
		mockRegistry = reg
	}

	registry := NewRegistry(outcome.snapshot.Modules, outcome.snapshot.Duplicates, b.cfg.ThrowOnModuleCollision)

	pipeline := NewPipeline(exec, registry, PipelineOptions{
		RootDir:             b.cfg.RootDir,
		ComputeDependencies: b.cfg.ComputeDependencies,
		ComputeSha1:         b.cfg.ComputeSha1,
		DependencyExtractor: b.cfg.DependencyExtractor,
		HasteImplModulePath: b.cfg.HasteImplModulePath,
		SkipPackageJson:     b.cfg.SkipPackageJson,
		RetainAllFiles:      b.cfg.RetainAllFiles,
		Platforms:           b.cfg.Platforms,
		MockRegistry:        mockRegistry,
	})

	candidates := outcome.changed
	if candidates == nil {
		candidates = allPaths(outcome.snapshot.Files)
	}

	dropped, err := pipeline.Run(outcome.snapshot.Files, candidates)
	if err != nil {
		return err
	}
	for _, relPath := range dropped {
		delete(outcome.snapshot.Files, relPath)
	}
	return nil
}

func allPaths(files snapshot.FileTable) []string {
	out := make([]string, 0, len(files))
	for p := range files {
		out = append(out, p)
	}
	return out
}
