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
	"fmt"
	"os"
	"path/filepath"

	"hastemap.dev/hastemap/internal/logging"
	"hastemap.dev/hastemap/internal/platform"
)

// SymlinkDaemonConflictError is raised when EnableSymlinks is set and a
// daemon config file (.watchmanconfig) is found under a root: the daemon
// cannot honour symlink semantics (spec §4.3).
type SymlinkDaemonConflictError struct {
	Root string
}

func (e *SymlinkDaemonConflictError) Error() string {
	return fmt.Sprintf("enableSymlinks is set but a daemon config file exists under root %q: the indexing daemon cannot honour symlink semantics", e.Root)
}

// CrawlerError wraps the failure of both the daemon and native crawlers,
// returned when the daemon fails and the native fallback also fails.
type CrawlerError struct {
	DaemonErr error
	NativeErr error
}

func (e *CrawlerError) Error() string {
	return fmt.Sprintf("daemon crawl failed (%v), native crawl retry also failed: %v", e.DaemonErr, e.NativeErr)
}

func (e *CrawlerError) Unwrap() []error {
	return []error{e.DaemonErr, e.NativeErr}
}

// Facade chooses between the daemon-backed and native crawler variants
// (C3) and implements the retry-once-on-native fallback policy.
type Facade struct {
	fs    platform.FileSystem
	Probe DaemonProbe
}

// NewFacade creates a Facade backed by fsys, using probe to detect a
// reachable indexing daemon (DefaultDaemonProbe in production).
func NewFacade(fsys platform.FileSystem, probe DaemonProbe) *Facade {
	if probe == nil {
		probe = DefaultDaemonProbe
	}
	return &Facade{fs: fsys, Probe: probe}
}

// Crawl runs the crawl, choosing the daemon-backed delta crawler when a
// daemon is detectable, useWatchman is true, and enableSymlinks is false;
// otherwise the native crawler. On daemon failure it logs a warning and
// retries once with the native crawler; a second failure is fatal.
func (f *Facade) Crawl(req Request, useWatchman bool) (Result, error) {
	if req.EnableSymlinks {
		if err := f.checkSymlinkConflict(req); err != nil {
			logging.Error("%v", err)
			os.Exit(1)
		}
	}

	useDaemon := useWatchman && !req.EnableSymlinks && f.Probe()
	if !useDaemon {
		return NativeCrawl(f.fs, req)
	}

	result, err := DaemonCrawl(req)
	if err == nil {
		return result, nil
	}

	logging.Warning("daemon crawl failed, retrying with native crawler: %v", err)
	nativeResult, nativeErr := NativeCrawl(f.fs, req)
	if nativeErr != nil {
		return Result{}, &CrawlerError{DaemonErr: err, NativeErr: nativeErr}
	}
	return nativeResult, nil
}

// checkSymlinkConflict aborts configuration when EnableSymlinks coexists
// with a daemon config file under any root (spec §4.3).
func (f *Facade) checkSymlinkConflict(req Request) error {
	for _, root := range req.Roots {
		absRoot := root
		if !filepath.IsAbs(absRoot) {
			absRoot = filepath.Join(req.RootDir, root)
		}
		configPath := filepath.Join(absRoot, ".watchmanconfig")
		if f.fs.Exists(configPath) {
			return &SymlinkDaemonConflictError{Root: root}
		}
	}
	return nil
}
