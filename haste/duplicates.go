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

// Package haste implements the core orchestration of the haste map: the
// extraction pipeline (C5), duplicate registry (C6), mock registry (C7),
// builder state machine (C8), watcher (C9), and the public read views
// (C10).
package haste

import (
	"fmt"

	"hastemap.dev/hastemap/internal/logging"
	"hastemap.dev/hastemap/snapshot"
)

// DuplicateError is raised on a module or mock collision when
// throwOnModuleCollision is set (spec §4.6/§4.7/§7).
type DuplicateError struct {
	PathA string
	PathB string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("module collision: %q and %q both provide the same haste id for the same platform", e.PathA, e.PathB)
}

// Registry owns the ModuleTable/DuplicateTable pair of a Snapshot and
// enforces the "one winner per (id, platform)" invariant (C6), with the
// copy-on-write discipline spec §4.6's rationale requires: published
// views (C10) may hold references to pre-change inner maps, so a mutation
// clones the inner map it is about to change rather than mutating it in
// place.
type Registry struct {
	Modules                snapshot.ModuleTable
	Duplicates             snapshot.DuplicateTable
	ThrowOnModuleCollision bool
}

// NewRegistry wraps the module/duplicate tables of a Snapshot.
func NewRegistry(modules snapshot.ModuleTable, duplicates snapshot.DuplicateTable, throwOnCollision bool) *Registry {
	return &Registry{Modules: modules, Duplicates: duplicates, ThrowOnModuleCollision: throwOnCollision}
}

// SetModule implements spec §4.6's setModule: register newEntry as a
// candidate binding of id for its platform, resolving to a single winner
// or recording a contested key in DuplicateTable.
func (r *Registry) SetModule(id, platform string, newEntry snapshot.ModuleEntry) error {
	if platform == "" {
		platform = snapshot.Generic
	}

	if dupPlatforms, ok := r.Duplicates[id]; ok {
		if contenders, ok := dupPlatforms[platform]; ok {
			contenders = cloneContenders(contenders)
			contenders[newEntry.Path] = newEntry.Kind
			dupPlatforms = cloneDupPlatformMap(dupPlatforms)
			dupPlatforms[platform] = contenders
			r.Duplicates[id] = dupPlatforms
			return nil
		}
	}

	if platforms, ok := r.Modules[id]; ok {
		if winner, ok := platforms[platform]; ok {
			if winner.Path == newEntry.Path {
				return nil // no-op: re-registering the same winner
			}

			if r.ThrowOnModuleCollision {
				logging.Error("module collision: %q and %q both provide haste id %q for platform %q", winner.Path, newEntry.Path, id, platform)
				return &DuplicateError{PathA: winner.Path, PathB: newEntry.Path}
			}
			logging.Warning("module collision: %q and %q both provide haste id %q for platform %q", winner.Path, newEntry.Path, id, platform)

			platforms = clonePlatformMap(platforms)
			delete(platforms, platform)
			if len(platforms) == 0 {
				delete(r.Modules, id)
			} else {
				r.Modules[id] = platforms
			}

			dupPlatforms := cloneDupPlatformMap(r.Duplicates[id])
			contenders := map[string]snapshot.Kind{
				winner.Path:   winner.Kind,
				newEntry.Path: newEntry.Kind,
			}
			dupPlatforms[platform] = contenders
			r.Duplicates[id] = dupPlatforms
			return nil
		}
	}

	platforms := clonePlatformMap(r.Modules[id])
	platforms[platform] = newEntry
	r.Modules[id] = platforms
	return nil
}

// RecoverDuplicates implements spec §4.6's recoverDuplicates: called when
// the file behind a possibly-duplicated id is removed or re-processed.
// Removes relativePath from the contested set for (id, platform); if
// exactly one contender remains, promotes it back into ModuleTable.
func (r *Registry) RecoverDuplicates(id, platform, relativePath string) {
	if platform == "" {
		platform = snapshot.Generic
	}

	dupPlatforms, ok := r.Duplicates[id]
	if !ok {
		return
	}
	contenders, ok := dupPlatforms[platform]
	if !ok {
		return
	}

	contenders = cloneContenders(contenders)
	delete(contenders, relativePath)

	dupPlatforms = cloneDupPlatformMap(dupPlatforms)

	switch len(contenders) {
	case 0:
		delete(dupPlatforms, platform)
	case 1:
		var survivorPath string
		var survivorKind snapshot.Kind
		for p, k := range contenders {
			survivorPath, survivorKind = p, k
		}
		delete(dupPlatforms, platform)

		platforms := clonePlatformMap(r.Modules[id])
		platforms[platform] = snapshot.ModuleEntry{Path: survivorPath, Kind: survivorKind}
		r.Modules[id] = platforms
	default:
		dupPlatforms[platform] = contenders
	}

	if len(dupPlatforms) == 0 {
		delete(r.Duplicates, id)
	} else {
		r.Duplicates[id] = dupPlatforms
	}
}

// RemoveBinding removes relativePath's binding of id (if any) from
// whichever table currently holds it — used when a file is removed or is
// about to be re-extracted (spec §4.9 step 6).
func (r *Registry) RemoveBinding(id, platform, relativePath string) {
	if platform == "" {
		platform = snapshot.Generic
	}
	if platforms, ok := r.Modules[id]; ok {
		if winner, ok := platforms[platform]; ok && winner.Path == relativePath {
			platforms = clonePlatformMap(platforms)
			delete(platforms, platform)
			if len(platforms) == 0 {
				delete(r.Modules, id)
			} else {
				r.Modules[id] = platforms
			}
			return
		}
	}
	r.RecoverDuplicates(id, platform, relativePath)
}

func clonePlatformMap(m snapshot.PlatformMap) snapshot.PlatformMap {
	out := make(snapshot.PlatformMap, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneDupPlatformMap(m snapshot.DuplicatePlatformMap) snapshot.DuplicatePlatformMap {
	out := make(snapshot.DuplicatePlatformMap, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneContenders(m map[string]snapshot.Kind) map[string]snapshot.Kind {
	out := make(map[string]snapshot.Kind, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
