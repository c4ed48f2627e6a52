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
	"path"
	"strings"

	"hastemap.dev/hastemap/internal/logging"
	"hastemap.dev/hastemap/snapshot"
	"hastemap.dev/hastemap/worker"
)

// PipelineOptions configures one run of the extraction pipeline over a
// candidate path set (spec §4.5).
type PipelineOptions struct {
	RootDir             string
	ComputeDependencies bool
	ComputeSha1         bool
	DependencyExtractor string
	HasteImplModulePath string
	SkipPackageJson     bool
	RetainAllFiles      bool
	Platforms           []string
	MockRegistry        *MockRegistry
}

// Pipeline runs the per-file decision tree of spec §4.5 and folds worker
// replies back into a Snapshot's tables.
type Pipeline struct {
	exec     worker.Executor
	opts     PipelineOptions
	registry *Registry
}

// NewPipeline builds a Pipeline bound to the given executor, registry,
// and options. The registry wraps the ModuleTable/DuplicateTable being
// rebuilt in this run — the "provided" table referenced by spec §4.5
// step 5.
func NewPipeline(exec worker.Executor, registry *Registry, opts PipelineOptions) *Pipeline {
	return &Pipeline{exec: exec, opts: opts, registry: registry}
}

// Run processes every candidate relative path against the snapshot's
// FileTable, mutating files, the duplicate/mock registries, and
// returning the set of paths that must be dropped from FileTable
// (vanished between crawl and extraction).
func (p *Pipeline) Run(files snapshot.FileTable, candidates []string) (dropped []string, err error) {
	for _, relPath := range candidates {
		drop, procErr := p.processOne(files, relPath)
		if procErr != nil {
			return dropped, procErr
		}
		if drop {
			dropped = append(dropped, relPath)
		}
	}
	return dropped, nil
}

func (p *Pipeline) processOne(files snapshot.FileTable, relPath string) (drop bool, err error) {
	entry, ok := files[relPath]
	if !ok {
		// Invariant violation per spec §4.5 step 1: the candidate must have
		// an existing FileEntry before extraction is attempted.
		panic(fmt.Sprintf("haste: no FileEntry for candidate path %q", relPath))
	}

	if p.opts.SkipPackageJson && path.Base(relPath) == "package.json" {
		return false, nil
	}

	if p.opts.RetainAllFiles && isNodeModulesPath(relPath) {
		if p.opts.ComputeSha1 && entry.SHA1 == "" {
			reply := p.exec.Sha1Only(worker.Job{FilePath: relPath, RootDir: p.opts.RootDir})
			if reply.Err != nil {
				return p.handleWorkerError(relPath, reply)
			}
			entry.SHA1 = reply.SHA1
			files[relPath] = entry
		}
		return false, nil
	}

	if p.opts.MockRegistry != nil && p.opts.MockRegistry.Matches(relPath) {
		if err := p.opts.MockRegistry.Register(relPath); err != nil {
			return false, err
		}
	}

	if entry.Visited && entry.HasteID != "" {
		if platformMap, ok := p.registry.Modules[entry.HasteID]; ok {
			for platform, binding := range platformMap {
				if binding.Path == relPath {
					// Rebind the existing winner into the rebuilt table and skip
					// extraction (spec §4.5 step 5). The binding is already
					// present in p.registry.Modules (the table being rebuilt),
					// so there is nothing further to do.
					_ = platform
					return false, nil
				}
			}
		}
	}

	job := worker.Job{
		FilePath:            relPath,
		RootDir:             p.opts.RootDir,
		ComputeDependencies: p.opts.ComputeDependencies,
		ComputeSha1:         p.opts.ComputeSha1,
		DependencyExtractor: p.opts.DependencyExtractor,
		HasteImplModulePath: p.opts.HasteImplModulePath,
		Platforms:           p.opts.Platforms,
	}
	reply := p.exec.Extract(job)
	if reply.Err != nil {
		return p.handleWorkerError(relPath, reply)
	}

	entry.Visited = true
	if reply.ID != "" && reply.Module != nil {
		entry.HasteID = reply.ID
		if err := p.registry.SetModule(reply.ID, reply.Platform, *reply.Module); err != nil {
			return false, err
		}
	}
	entry.SetDepsList(reply.Deps)
	if p.opts.ComputeSha1 {
		entry.SHA1 = reply.SHA1
	}
	files[relPath] = entry
	return false, nil
}

// handleWorkerError implements spec §4.5/§7's worker-error policy:
// ENOENT/EACCES silently drop the FileEntry; anything else aborts the
// build.
func (p *Pipeline) handleWorkerError(relPath string, reply worker.Reply) (bool, error) {
	if reply.Recoverable() {
		logging.Debug("extraction for %s vanished (%s), dropping from file table", relPath, reply.ErrCode)
		return true, nil
	}
	return false, fmt.Errorf("extraction failed for %s: %w", relPath, reply.Err)
}

func isNodeModulesPath(relPath string) bool {
	for _, seg := range strings.Split(relPath, "/") {
		if seg == "node_modules" {
			return true
		}
	}
	return false
}
