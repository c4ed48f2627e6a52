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

// Package worker implements the worker pool (C4): dispatching per-file
// extraction jobs either synchronously in the caller's process or to a
// pool of isolated child OS processes, per spec §4.4/§5.
package worker

import "hastemap.dev/hastemap/snapshot"

// Job carries everything a worker needs to extract one file, per the
// worker contract in spec §6.
type Job struct {
	FilePath            string
	RootDir             string
	ComputeDependencies bool
	ComputeSha1         bool
	DependencyExtractor string
	HasteImplModulePath string
	Sha1Only            bool

	// Platforms carries the configured platform suffixes (e.g. "ios",
	// "android") across the wire to a pool child process, which starts
	// with no knowledge of the parent's config otherwise.
	Platforms []string
}

// Reply is the worker contract's return value. ID and Module are set only
// when the file declares a haste id.
type Reply struct {
	ID       string
	Platform string
	Module   *snapshot.ModuleEntry
	Deps     []string
	SHA1     string

	// Err carries a worker failure. ErrCode distinguishes ENOENT/EACCES
	// (dropped, spec §4.5) from everything else (fatal, aborts the build).
	Err     error
	ErrCode string
}

const (
	// ErrCodeENOENT and ErrCodeEACCES are the only recoverable worker error
	// codes (spec §4.5/§7): the file vanished or became unreadable between
	// crawl and extraction.
	ErrCodeENOENT = "ENOENT"
	ErrCodeEACCES = "EACCES"
)

// Recoverable reports whether a reply's error code is one the extraction
// pipeline may silently absorb by dropping the FileEntry.
func (r Reply) Recoverable() bool {
	return r.ErrCode == ErrCodeENOENT || r.ErrCode == ErrCodeEACCES
}

// Executor is the narrow interface the extraction pipeline dispatches
// through; InBand and Pool are its two variants (spec §9 "Polymorphism").
type Executor interface {
	Extract(job Job) Reply
	Sha1Only(job Job) Reply
	// Cleanup releases any resources the executor holds (process pool
	// workers). Safe to call on an executor that never allocated any.
	Cleanup()
}

// NewExecutor selects the dispatch policy of spec §4.4: in-band when
// maxWorkers <= 1 or forceInBand is set, otherwise a process pool sized
// to maxWorkers.
func NewExecutor(maxWorkers int, forceInBand bool, inBand *InBand) Executor {
	if maxWorkers <= 1 || forceInBand {
		return inBand
	}
	return NewPool(maxWorkers)
}
