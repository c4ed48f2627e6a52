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
	"bufio"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"hastemap.dev/hastemap/internal/platform"
)

func TestNewPool_FloorsWorkerCountAtOne(t *testing.T) {
	p := NewPool(0)
	assert.Equal(t, 1, p.numWorkers)

	p = NewPool(-5)
	assert.Equal(t, 1, p.numWorkers)
}

func TestPool_CleanupIsSafeWhenNeverStarted(t *testing.T) {
	p := NewPool(4)
	assert.NotPanics(t, func() { p.Cleanup() })
}

// TestRunChild_RoundTripsOneJobOverStdinStdout redirects os.Stdin/os.Stdout
// to an in-process pipe pair and drives RunChild's msgpack-framed protocol
// directly, without spawning a real child process.
func TestRunChild_RoundTripsOneJobOverStdinStdout(t *testing.T) {
	stdinRead, stdinWrite, err := os.Pipe()
	require.NoError(t, err)
	stdoutRead, stdoutWrite, err := os.Pipe()
	require.NoError(t, err)

	origStdin, origStdout := os.Stdin, os.Stdout
	os.Stdin = stdinRead
	os.Stdout = stdoutWrite
	defer func() {
		os.Stdin = origStdin
		os.Stdout = origStdout
	}()

	fsys := platform.NewMapFS(map[string]string{
		"src/Widget.js": "/** @providesModule Widget */",
	})
	executor := NewInBand(fsys, nil, nil, nil)

	done := make(chan error, 1)
	go func() { done <- RunChild(executor) }()

	enc := msgpack.NewEncoder(stdinWrite)
	require.NoError(t, enc.Encode(wireJob{Job: Job{FilePath: "src/Widget.js"}}))

	dec := msgpack.NewDecoder(bufio.NewReader(stdoutRead))
	var resp wireReply
	require.NoError(t, dec.Decode(&resp))
	assert.Equal(t, "Widget", resp.Reply.ID)

	require.NoError(t, stdinWrite.Close())
	require.NoError(t, <-done)
	_ = stdoutRead.Close()
}
