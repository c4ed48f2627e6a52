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

package worker

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"hastemap.dev/hastemap/internal/platform"
	"hastemap.dev/hastemap/snapshot"
)

// HasteImpl is the capability record a pluggable haste-id extractor
// implements (spec §9 "Dynamic hooks" — a capability record resolved
// once, not an implicit global registry).
type HasteImpl interface {
	GetCacheKey() string
	GetHasteName(content []byte) string
}

// DependencyExtractor is the capability record a pluggable dependency
// scanner implements.
type DependencyExtractor interface {
	GetCacheKey() string
	Extract(content []byte) []string
}

// InBand executes jobs synchronously in the caller's execution context:
// selected when maxWorkers <= 1 or the caller forces in-band dispatch
// (spec §4.4), and always used by watch mode (spec §4.9 step 7).
type InBand struct {
	fs                  platform.FileSystem
	hasteImpl           HasteImpl
	dependencyExtractor DependencyExtractor
	platforms           []string
}

// NewInBand creates an in-band executor. A nil hasteImpl/dependencyExtractor
// falls back to DefaultHasteImpl/DefaultDependencyExtractor.
func NewInBand(fsys platform.FileSystem, hasteImpl HasteImpl, depExtractor DependencyExtractor, platforms []string) *InBand {
	if hasteImpl == nil {
		hasteImpl = DefaultHasteImpl{}
	}
	if depExtractor == nil {
		depExtractor = DefaultDependencyExtractor{}
	}
	return &InBand{fs: fsys, hasteImpl: hasteImpl, dependencyExtractor: depExtractor, platforms: platforms}
}

func (e *InBand) Extract(job Job) Reply {
	absPath := job.FilePath
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(job.RootDir, job.FilePath)
	}

	content, err := e.fs.ReadFile(absPath)
	if err != nil {
		return errorReply(err)
	}

	platforms := e.platforms
	if len(job.Platforms) > 0 {
		platforms = job.Platforms
	}

	reply := Reply{}
	if id := e.hasteImpl.GetHasteName(content); id != "" {
		reply.ID = id
		reply.Platform = detectPlatform(job.FilePath, platforms)
		reply.Module = &snapshot.ModuleEntry{Path: job.FilePath, Kind: moduleKind(job.FilePath)}
	}
	if job.ComputeDependencies {
		reply.Deps = e.dependencyExtractor.Extract(content)
	}
	if job.ComputeSha1 {
		sum := sha1.Sum(content)
		reply.SHA1 = hex.EncodeToString(sum[:])
	}
	return reply
}

func (e *InBand) Sha1Only(job Job) Reply {
	absPath := job.FilePath
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(job.RootDir, job.FilePath)
	}
	content, err := e.fs.ReadFile(absPath)
	if err != nil {
		return errorReply(err)
	}
	sum := sha1.Sum(content)
	return Reply{SHA1: hex.EncodeToString(sum[:])}
}

func (e *InBand) Cleanup() {}

// errorReply classifies a filesystem error into the recoverable ENOENT/
// EACCES codes the extraction pipeline understands (spec §4.5/§7), or
// leaves ErrCode empty for everything else (fatal).
func errorReply(err error) Reply {
	reply := Reply{Err: err}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		reply.ErrCode = ErrCodeENOENT
	case errors.Is(err, fs.ErrPermission):
		reply.ErrCode = ErrCodeEACCES
	case errors.Is(err, os.ErrNotExist):
		reply.ErrCode = ErrCodeENOENT
	case errors.Is(err, os.ErrPermission):
		reply.ErrCode = ErrCodeEACCES
	}
	return reply
}

// detectPlatform extracts a configured platform suffix from a path, e.g.
// "Widget.ios.js" -> "ios", returning snapshot.Generic if none matches.
func detectPlatform(relPath string, platforms []string) string {
	base := filepath.Base(relPath)
	for _, p := range platforms {
		if strings.Contains(base, "."+p+".") || strings.HasSuffix(base, "."+p) {
			return p
		}
	}
	return snapshot.Generic
}

// moduleKind reports whether a path is a package binding (an index file
// for a directory) or an ordinary module binding.
func moduleKind(relPath string) snapshot.Kind {
	base := filepath.Base(relPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "index" || name == "package" {
		return snapshot.KindPackage
	}
	return snapshot.KindModule
}
