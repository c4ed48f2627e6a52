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

package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"
	"github.com/vmihailenco/msgpack/v5"

	"hastemap.dev/hastemap/internal/logging"
	"hastemap.dev/hastemap/internal/platform"
)

// KeyParts are every input that must be folded into the cache key. Any
// change to any field must yield a different path (spec §4.1).
type KeyParts struct {
	ToolVersion            string
	ProjectName            string
	RootDirDigest          string
	Roots                  []string
	Extensions             []string
	Platforms              []string
	ComputeSha1            bool
	MocksPattern           string
	IgnorePatternSource    string
	HasteImplCacheKey      string
	DependencyExtractorKey string
}

// Path derives a deterministic, stable cache file path for the given key
// parts, rooted under cacheDir and named with namePrefix. The digest is a
// fast, non-cryptographic hash (xxhash) — stability matters here, not
// collision-resistance against an adversary.
func Path(cacheDir, namePrefix string, parts KeyParts) string {
	h := xxhash.New()
	fmt.Fprintln(h, parts.ToolVersion)
	fmt.Fprintln(h, parts.ProjectName)
	fmt.Fprintln(h, parts.RootDirDigest)
	fmt.Fprintln(h, strings.Join(sortedCopy(parts.Roots), ","))
	fmt.Fprintln(h, strings.Join(parts.Extensions, ","))
	fmt.Fprintln(h, strings.Join(parts.Platforms, ","))
	fmt.Fprintln(h, strconv.FormatBool(parts.ComputeSha1))
	fmt.Fprintln(h, parts.MocksPattern)
	fmt.Fprintln(h, parts.IgnorePatternSource)
	fmt.Fprintln(h, parts.HasteImplCacheKey)
	fmt.Fprintln(h, parts.DependencyExtractorKey)

	digest := fmt.Sprintf("%016x", h.Sum64())
	safePrefix := sanitizePrefix(namePrefix)
	return filepath.Join(cacheDir, fmt.Sprintf("%s-%s", safePrefix, digest))
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func sanitizePrefix(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "hastemap"
	}
	return b.String()
}

// Cache reads and writes the persisted Snapshot for a cache path.
type Cache struct {
	fs platform.FileSystem
}

// NewCache creates a Cache backed by the given filesystem abstraction
// (production code passes platform.NewOSFileSystem(); tests pass an
// in-memory platform.FileSystem). Read and Write's directory creation go
// through it; Write's temp file and rename use the os package directly.
func NewCache(fs platform.FileSystem) *Cache {
	return &Cache{fs: fs}
}

// Read loads the Snapshot at path. Any error (missing file, truncated
// write, format drift) is swallowed: the caller always gets a usable,
// empty Snapshot back instead of a fatal error, per spec §4.1/§7.
func (c *Cache) Read(path string) Snapshot {
	data, err := c.fs.ReadFile(path)
	if err != nil {
		logging.Debug("cache miss at %s: %v", path, err)
		return Empty()
	}

	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		logging.Warning("cache at %s is corrupt, starting from empty snapshot: %v", path, err)
		return Empty()
	}
	if snap.Clocks == nil {
		snap.Clocks = ClockTable{}
	}
	if snap.Files == nil {
		snap.Files = FileTable{}
	}
	if snap.Modules == nil {
		snap.Modules = ModuleTable{}
	}
	if snap.Mocks == nil {
		snap.Mocks = MockTable{}
	}
	if snap.Duplicates == nil {
		snap.Duplicates = DuplicateTable{}
	}
	return snap
}

// Write persists snap to path atomically: serialize to a temp file in the
// same directory, then rename over the destination. An advisory flock
// guards the write against a second concurrent writer sharing the same
// cache key; failure to acquire it is logged and ignored rather than
// blocking the build (spec §5: no lock is required for correctness, the
// host must avoid concurrent writers on its own).
func (c *Cache) Write(path string, snap Snapshot) error {
	dir := filepath.Dir(path)
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory %s: %w", dir, err)
	}

	lock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil || !locked {
		logging.Debug("advisory cache lock not acquired for %s, proceeding anyway: %v", path, err)
	} else {
		defer lock.Unlock()
	}

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp snapshot file into place: %w", err)
	}
	return nil
}
