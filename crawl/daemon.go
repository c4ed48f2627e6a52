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
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"

	"hastemap.dev/hastemap/snapshot"
)

// DaemonProbe reports whether a filesystem-indexing daemon is reachable.
// Process-wide and evaluated once by the facade (spec §9 "Singleton
// state"); modeled as an injectable function so tests can override it.
type DaemonProbe func() bool

// DefaultDaemonProbe shells out to `watchman version` and reports success.
func DefaultDaemonProbe() bool {
	cmd := exec.Command("watchman", "version")
	return cmd.Run() == nil
}

// daemonQueryReply is the subset of a watchman `query` JSON reply this
// crawler understands: a clock token and the list of changed files.
type daemonQueryReply struct {
	Clock   string `json:"clock"`
	Files   []daemonFileEntry `json:"files"`
	Warning string            `json:"warning"`
	Error   string            `json:"error"`
}

type daemonFileEntry struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
	MTimeMS int64 `json:"mtime_ms"`
	Size    int64 `json:"size"`
}

// DaemonCrawl requests a delta for each root from the indexing daemon via
// `watchman -j` (JSON protocol over stdin/stdout), using the prior clock
// token when present to get an incremental reply instead of a full scan.
func DaemonCrawl(req Request) (Result, error) {
	next := req.Prior.Clone()
	if next.Files == nil {
		next.Files = snapshot.FileTable{}
	}
	if next.Clocks == nil {
		next.Clocks = snapshot.ClockTable{}
	}

	var changed []string
	var removed []string

	for _, root := range req.Roots {
		query := buildQuery(root, req.Prior.Clocks[root], req.Extensions)
		reply, err := runWatchmanQuery(query)
		if err != nil {
			return Result{}, fmt.Errorf("daemon query for root %s: %w", root, err)
		}
		if reply.Error != "" {
			return Result{}, fmt.Errorf("daemon query for root %s: %s", root, reply.Error)
		}

		for _, f := range reply.Files {
			relPath := f.Name
			if req.Ignore != nil && req.Ignore.Ignore(relPath) {
				continue
			}
			if !f.Exists {
				delete(next.Files, relPath)
				removed = append(removed, relPath)
				continue
			}
			entry := next.Files[relPath]
			entry.MTime = f.MTimeMS
			entry.Size = f.Size
			entry.Visited = false
			next.Files[relPath] = entry
			changed = append(changed, relPath)
		}
		next.Clocks[root] = reply.Clock
	}

	return Result{Snapshot: next, Changed: changed, Removed: removed, UsedDaemon: true}, nil
}

func buildQuery(root, sinceClock string, extensions []string) []any {
	expr := []any{"since", sinceClock}
	if sinceClock == "" {
		expr = []any{"allof", []any{"type", "f"}}
	}
	suffixes := make([]any, 0, len(extensions))
	for _, ext := range extensions {
		suffixes = append(suffixes, ext)
	}
	return []any{
		"query", root, map[string]any{
			"expression": expr,
			"suffix":     suffixes,
			"fields":     []string{"name", "exists", "mtime_ms", "size"},
		},
	}
}

// runWatchmanQuery runs a watchman query over its JSON command protocol
// (`watchman -j`), which accepts one JSON command on stdin and writes one
// JSON reply to stdout. No ecosystem bser/JSON-RPC watchman client appears
// anywhere in the reference corpus, so this thin request/reply is
// hand-written rather than borrowed.
func runWatchmanQuery(query []any) (daemonQueryReply, error) {
	payload, err := json.Marshal(query)
	if err != nil {
		return daemonQueryReply{}, err
	}

	cmd := exec.Command("watchman", "-j")
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return daemonQueryReply{}, err
	}

	var reply daemonQueryReply
	if err := json.Unmarshal(stdout.Bytes(), &reply); err != nil {
		return daemonQueryReply{}, err
	}
	return reply, nil
}
