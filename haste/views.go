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
	"hastemap.dev/hastemap/snapshot"
)

// FS answers existence and iteration queries over the files a build
// observed. It is a frozen snapshot: later mutations to the Snapshot it
// was built from are never observed (spec §4.10).
type FS struct {
	files   snapshot.FileTable
	rootDir string
}

// HasteFS builds a read-only FS view over files, rooted at rootDir.
func HasteFS(files snapshot.FileTable, rootDir string) *FS {
	return &FS{files: files, rootDir: rootDir}
}

// Exists reports whether relPath is a known, indexed file.
func (v *FS) Exists(relPath string) bool {
	_, ok := v.files[relPath]
	return ok
}

// RootDir returns the root directory this view was built against.
func (v *FS) RootDir() string {
	return v.rootDir
}

// Len returns the number of indexed files.
func (v *FS) Len() int {
	return len(v.files)
}

// All calls fn once per indexed path, in no particular order. fn must
// not mutate the underlying table.
func (v *FS) All(fn func(relPath string, entry snapshot.FileEntry)) {
	for p, e := range v.files {
		fn(p, e)
	}
}

// Resolution is the outcome of a ModuleMap lookup: exactly one of
// Path/Ambiguous is meaningful, gated by Found.
type Resolution struct {
	Found     bool
	Path      string
	Kind      snapshot.Kind
	Ambiguous bool // true iff the id/platform landed in the duplicate table
}

// Map answers "locate (id, platform) -> path" and mock-name lookups. A
// query that lands in the duplicate table surfaces as Ambiguous rather
// than silently picking a winner (spec §4.10).
type Map struct {
	modules    snapshot.ModuleTable
	mocks      snapshot.MockTable
	duplicates snapshot.DuplicateTable
	rootDir    string
}

// ModuleMap builds a read-only Map view, rooted at rootDir.
func ModuleMap(modules snapshot.ModuleTable, mocks snapshot.MockTable, duplicates snapshot.DuplicateTable, rootDir string) *Map {
	return &Map{modules: modules, mocks: mocks, duplicates: duplicates, rootDir: rootDir}
}

// Resolve looks up a haste id for a platform. platform == "" resolves
// snapshot.Generic. A contested (id, platform) pair resolves Ambiguous,
// never a silently-picked winner.
func (v *Map) Resolve(id, platform string) Resolution {
	if platform == "" {
		platform = snapshot.Generic
	}

	if dupPlatforms, ok := v.duplicates[id]; ok {
		if _, ok := dupPlatforms[platform]; ok {
			return Resolution{Found: true, Ambiguous: true}
		}
	}

	if platforms, ok := v.modules[id]; ok {
		if entry, ok := platforms[platform]; ok {
			return Resolution{Found: true, Path: entry.Path, Kind: entry.Kind}
		}
	}

	return Resolution{}
}

// ResolveMock looks up the path bound to a mock name.
func (v *Map) ResolveMock(name string) (relPath string, found bool) {
	relPath, found = v.mocks[name]
	return relPath, found
}

// RootDir returns the root directory this view was built against.
func (v *Map) RootDir() string {
	return v.rootDir
}
