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

// Package snapshot holds the persisted index of a crawled source tree: the
// file table, the module/duplicate/mock tables keyed by haste id, and the
// per-root clock tokens used to request deltas from a filesystem-indexing
// daemon. A Snapshot is the unit the cache store reads and writes.
package snapshot

// depsDelimiter separates dependency strings within FileEntry.Deps. Chosen
// to be a character that cannot appear in a module specifier.
const depsDelimiter = "\x1f"

// Kind distinguishes a module binding from a plain package binding (e.g. a
// directory's index file) inside a ModuleEntry.
type Kind int

const (
	KindModule Kind = iota
	KindPackage
)

func (k Kind) String() string {
	if k == KindPackage {
		return "package"
	}
	return "module"
}

// Generic is the sentinel platform used when a file declares no platform
// suffix.
const Generic = "GENERIC"

// FileEntry is the per-path record of the crawl+extraction pipeline.
// It is stored as a fixed-arity tuple on disk ([id, mtime, size, visited,
// deps, sha1]) via the msgpack "as_array" encoding below, to minimize
// parse cost on a large tree, while remaining an ordinary struct in memory.
type FileEntry struct {
	_msgpack struct{} `msgpack:",as_array"` //nolint:unused // selects array encoding

	HasteID string
	MTime   int64 // ms since epoch
	Size    int64 // bytes
	Visited bool  // true once extraction has succeeded for this path
	Deps    string
	SHA1    string // 40 lowercase hex chars, present iff computeSha1
}

// DepsList splits the stored, delimiter-joined dependency string back into
// an ordered slice. Returns nil if no dependencies were recorded.
func (f FileEntry) DepsList() []string {
	if f.Deps == "" {
		return nil
	}
	return splitDeps(f.Deps)
}

// SetDepsList joins an ordered slice of dependency strings into the
// compact, delimiter-separated storage form.
func (f *FileEntry) SetDepsList(deps []string) {
	f.Deps = joinDeps(deps)
}

func joinDeps(deps []string) string {
	out := ""
	for i, d := range deps {
		if i > 0 {
			out += depsDelimiter
		}
		out += d
	}
	return out
}

func splitDeps(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == depsDelimiter[0] {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// ModuleEntry is the single winning binding of a haste id for one platform.
type ModuleEntry struct {
	Path string
	Kind Kind
}

// PlatformMap maps a platform string (or Generic) to its winning binding.
type PlatformMap map[string]ModuleEntry

// ModuleTable maps haste id -> platform -> winning binding. A key present
// here must not also be present in DuplicateTable (see Snapshot invariant).
type ModuleTable map[string]PlatformMap

// DuplicatePlatformMap maps a platform string to every contending path and
// its kind. Always has size >= 2 once present.
type DuplicatePlatformMap map[string]map[string]Kind

// DuplicateTable maps haste id -> platform -> contenders, for keys that
// currently have more than one candidate binding.
type DuplicateTable map[string]DuplicatePlatformMap

// MockTable maps a manual-mock name to the single relative path providing it.
type MockTable map[string]string

// ClockTable maps a root directory to the opaque clock token a
// filesystem-indexing daemon returned for it, used to request the next
// delta.
type ClockTable map[string]string

// FileTable maps a root-relative, forward-slash path to its FileEntry.
type FileTable map[string]FileEntry

// Snapshot is the full persisted index: the tuple
// (clocks, files, modules, mocks, duplicates) from spec §3.
type Snapshot struct {
	Clocks     ClockTable
	Files      FileTable
	Modules    ModuleTable
	Mocks      MockTable
	Duplicates DuplicateTable
}

// Empty returns a freshly initialized, empty Snapshot — the starting point
// when no cache exists or a cache read fails (cache misses are never
// fatal, see snapshot.Cache.Read).
func Empty() Snapshot {
	return Snapshot{
		Clocks:     ClockTable{},
		Files:      FileTable{},
		Modules:    ModuleTable{},
		Mocks:      MockTable{},
		Duplicates: DuplicateTable{},
	}
}

// Clone performs a shallow, copy-on-write clone: every top-level table gets
// a fresh map, but PlatformMap/DuplicatePlatformMap inner maps are shared
// until the caller mutates a specific key (callers mutate via the
// haste package's duplicate registry, which clones inner maps lazily on
// first write — see haste.Registry).
func (s Snapshot) Clone() Snapshot {
	clone := Snapshot{
		Clocks:     make(ClockTable, len(s.Clocks)),
		Files:      make(FileTable, len(s.Files)),
		Modules:    make(ModuleTable, len(s.Modules)),
		Mocks:      make(MockTable, len(s.Mocks)),
		Duplicates: make(DuplicateTable, len(s.Duplicates)),
	}
	for k, v := range s.Clocks {
		clone.Clocks[k] = v
	}
	for k, v := range s.Files {
		clone.Files[k] = v
	}
	for k, v := range s.Modules {
		clone.Modules[k] = v
	}
	for k, v := range s.Mocks {
		clone.Mocks[k] = v
	}
	for k, v := range s.Duplicates {
		clone.Duplicates[k] = v
	}
	return clone
}
