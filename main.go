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

package main

import (
	"fmt"
	"os"

	"hastemap.dev/hastemap/cmd"
	"hastemap.dev/hastemap/internal/platform"
	"hastemap.dev/hastemap/worker"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == worker.ChildModeFlag {
		runChild()
		return
	}
	cmd.Execute()
}

// runChild is the worker-pool child process entry point: worker.Pool
// re-execs this same binary with ChildModeFlag to get an isolated
// process per worker (spec §4.4). Platforms travel per-job on the wire
// (worker.Job.Platforms), so the child's InBand needs none at
// construction time.
func runChild() {
	executor := worker.NewInBand(platform.NewOSFileSystem(), nil, nil, nil)
	if err := worker.RunChild(executor); err != nil {
		fmt.Fprintf(os.Stderr, "hastemap worker child: %v\n", err)
		os.Exit(1)
	}
}
