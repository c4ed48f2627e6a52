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

package crawl

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"hastemap.dev/hastemap/internal/platform"
	"hastemap.dev/hastemap/snapshot"
)

// Request carries every input the crawler contract (spec §6) needs.
type Request struct {
	Roots                  []string
	RootDir                string
	Extensions             []string
	Ignore                 *Matcher
	ComputeSha1            bool
	EnableSymlinks         bool
	ForceNodeFilesystemAPI bool
	Prior                  snapshot.Snapshot
}

// Result is the crawler contract's return value: the observed file set
// folded into a fresh Snapshot, plus the changed/removed deltas. Changed
// is nil when the crawler cannot identify deltas, forcing a full
// re-extract (spec §4.3).
type Result struct {
	Snapshot snapshot.Snapshot
	Changed  []string // nil means "unknown, re-extract everything"
	Removed  []string
	UsedDaemon bool
}

// NativeCrawl walks every configured root concurrently with fs.WalkDir
// (one goroutine per root, bounded by an errgroup), diffing the observed
// (path, mtime, size) against the prior Snapshot to compute a precise
// changed/removed set. Each root's walk builds its own local map; results
// are merged under a mutex once every root has finished, so no partial
// state is visible across goroutines mid-walk.
func NativeCrawl(fsys platform.FileSystem, req Request) (Result, error) {
	observed := make(map[string]snapshot.FileEntry, len(req.Prior.Files))
	var changed []string
	var mu sync.Mutex

	var g errgroup.Group
	for _, root := range req.Roots {
		root := root
		g.Go(func() error {
			absRoot := root
			if !filepath.IsAbs(absRoot) {
				absRoot = filepath.Join(req.RootDir, root)
			}
			localObserved := make(map[string]snapshot.FileEntry)
			var localChanged []string
			err := walkRoot(fsys, absRoot, req, func(relPath string, mtimeMS, size int64) {
				entry := snapshot.FileEntry{MTime: mtimeMS, Size: size}
				if prior, ok := req.Prior.Files[relPath]; ok {
					entry = prior
					entry.MTime = mtimeMS
					entry.Size = size
					if prior.MTime != mtimeMS || prior.Size != size {
						entry.Visited = false
						localChanged = append(localChanged, relPath)
					}
				} else {
					localChanged = append(localChanged, relPath)
				}
				localObserved[relPath] = entry
			})
			if err != nil {
				return err
			}

			mu.Lock()
			for k, v := range localObserved {
				observed[k] = v
			}
			changed = append(changed, localChanged...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var removed []string
	for relPath := range req.Prior.Files {
		if _, ok := observed[relPath]; !ok {
			removed = append(removed, relPath)
		}
	}

	next := req.Prior.Clone()
	next.Files = make(snapshot.FileTable, len(observed))
	for k, v := range observed {
		next.Files[k] = v
	}

	return Result{Snapshot: next, Changed: changed, Removed: removed}, nil
}

// walkRoot walks a single root directory, invoking visit for every
// non-ignored, extension-matching regular file (or, if EnableSymlinks,
// symlinked file).
func walkRoot(fsys platform.FileSystem, absRoot string, req Request, visit func(relPath string, mtimeMS, size int64)) error {
	return fs.WalkDir(fsys, strings.TrimPrefix(absRoot, "/"), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: a single unreadable entry doesn't abort the crawl
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 && !req.EnableSymlinks {
			return nil
		}
		if !hasConfiguredExtension(p, req.Extensions) {
			return nil
		}
		relPath := relativeTo(req.RootDir, "/"+p)
		if req.Ignore != nil && req.Ignore.Ignore(relPath) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		visit(relPath, info.ModTime().UnixMilli(), info.Size())
		return nil
	})
}

func hasConfiguredExtension(p string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	for _, ext := range extensions {
		if strings.HasSuffix(p, "."+ext) {
			return true
		}
	}
	return false
}

// relativeTo computes absPath's location relative to root, the overall
// configured root directory (not the individual crawl root it was found
// under) so the resulting path round-trips through worker.Job.FilePath
// joined against the same root directory. An empty root (no RootDir
// configured) just strips the leading slash added by the caller.
func relativeTo(root, absPath string) string {
	if root == "" {
		return filepath.ToSlash(strings.TrimPrefix(absPath, "/"))
	}
	if !filepath.IsAbs(root) {
		root = "/" + root
	}
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		rel = absPath
	}
	return filepath.ToSlash(rel)
}
