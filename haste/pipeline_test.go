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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hastemap.dev/hastemap/snapshot"
	"hastemap.dev/hastemap/worker"
)

// fakeExecutor is a scripted worker.Executor: each call to Extract/Sha1Only
// returns the reply scripted for the job's path and records the job.
type fakeExecutor struct {
	extractReplies map[string]worker.Reply
	sha1Replies    map[string]worker.Reply
	extractCalls   []string
	sha1Calls      []string
	cleaned        bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		extractReplies: map[string]worker.Reply{},
		sha1Replies:    map[string]worker.Reply{},
	}
}

func (f *fakeExecutor) Extract(job worker.Job) worker.Reply {
	f.extractCalls = append(f.extractCalls, job.FilePath)
	return f.extractReplies[job.FilePath]
}

func (f *fakeExecutor) Sha1Only(job worker.Job) worker.Reply {
	f.sha1Calls = append(f.sha1Calls, job.FilePath)
	return f.sha1Replies[job.FilePath]
}

func (f *fakeExecutor) Cleanup() { f.cleaned = true }

func newTestPipeline(exec worker.Executor, opts PipelineOptions) (*Pipeline, *Registry) {
	registry := NewRegistry(snapshot.ModuleTable{}, snapshot.DuplicateTable{}, false)
	return NewPipeline(exec, registry, opts), registry
}

func TestPipeline_ExtractsNewFileAndRegistersModule(t *testing.T) {
	exec := newFakeExecutor()
	exec.extractReplies["Widget.js"] = worker.Reply{
		ID:       "Widget",
		Platform: "",
		Module:   &snapshot.ModuleEntry{Path: "Widget.js", Kind: snapshot.KindModule},
		Deps:     []string{"React"},
		SHA1:     "deadbeef",
	}
	pipeline, registry := newTestPipeline(exec, PipelineOptions{ComputeSha1: true})

	files := snapshot.FileTable{"Widget.js": {MTime: 1, Size: 2}}
	dropped, err := pipeline.Run(files, []string{"Widget.js"})

	require.NoError(t, err)
	assert.Empty(t, dropped)

	entry := files["Widget.js"]
	assert.True(t, entry.Visited)
	assert.Equal(t, "Widget", entry.HasteID)
	assert.Equal(t, "deadbeef", entry.SHA1)
	assert.Equal(t, []string{"React"}, entry.DepsList())
	assert.Equal(t, "Widget.js", registry.Modules["Widget"][snapshot.Generic].Path)
}

func TestPipeline_SkipsPackageJsonWhenConfigured(t *testing.T) {
	exec := newFakeExecutor()
	pipeline, _ := newTestPipeline(exec, PipelineOptions{SkipPackageJson: true})

	files := snapshot.FileTable{"pkg/package.json": {}}
	dropped, err := pipeline.Run(files, []string{"pkg/package.json"})

	require.NoError(t, err)
	assert.Empty(t, dropped)
	assert.Empty(t, exec.extractCalls, "package.json must never reach the worker when skipped")
}

func TestPipeline_RetainAllFilesComputesSha1OnlyUnderNodeModules(t *testing.T) {
	exec := newFakeExecutor()
	exec.sha1Replies["node_modules/left-pad/index.js"] = worker.Reply{SHA1: "cafe"}
	pipeline, _ := newTestPipeline(exec, PipelineOptions{RetainAllFiles: true, ComputeSha1: true})

	files := snapshot.FileTable{"node_modules/left-pad/index.js": {}}
	dropped, err := pipeline.Run(files, []string{"node_modules/left-pad/index.js"})

	require.NoError(t, err)
	assert.Empty(t, dropped)
	assert.Equal(t, "cafe", files["node_modules/left-pad/index.js"].SHA1)
	assert.Empty(t, exec.extractCalls, "retained node_modules files skip full extraction")
	assert.Equal(t, []string{"node_modules/left-pad/index.js"}, exec.sha1Calls)
}

func TestPipeline_RetainAllFilesSkipsSha1IfAlreadyComputed(t *testing.T) {
	exec := newFakeExecutor()
	pipeline, _ := newTestPipeline(exec, PipelineOptions{RetainAllFiles: true, ComputeSha1: true})

	files := snapshot.FileTable{"node_modules/left-pad/index.js": {SHA1: "already"}}
	_, err := pipeline.Run(files, []string{"node_modules/left-pad/index.js"})

	require.NoError(t, err)
	assert.Empty(t, exec.sha1Calls)
	assert.Equal(t, "already", files["node_modules/left-pad/index.js"].SHA1)
}

func TestPipeline_MockRegistryRegistersMatchingCandidate(t *testing.T) {
	exec := newFakeExecutor()
	mockRegistry, err := NewMockRegistry(snapshot.MockTable{}, `__mocks__/`, false)
	require.NoError(t, err)
	pipeline, _ := newTestPipeline(exec, PipelineOptions{MockRegistry: mockRegistry})

	files := snapshot.FileTable{"__mocks__/Widget.js": {}}
	_, err = pipeline.Run(files, []string{"__mocks__/Widget.js"})

	require.NoError(t, err)
	assert.Equal(t, "__mocks__/Widget.js", mockRegistry.Mocks["Widget"])
}

func TestPipeline_ReuseSkipsReExtractionWhenAlreadyWinner(t *testing.T) {
	exec := newFakeExecutor()
	pipeline, registry := newTestPipeline(exec, PipelineOptions{})
	require.NoError(t, registry.SetModule("Widget", "", snapshot.ModuleEntry{Path: "Widget.js", Kind: snapshot.KindModule}))

	files := snapshot.FileTable{"Widget.js": {HasteID: "Widget", Visited: true}}
	dropped, err := pipeline.Run(files, []string{"Widget.js"})

	require.NoError(t, err)
	assert.Empty(t, dropped)
	assert.Empty(t, exec.extractCalls, "an already-bound, visited winner must not be re-extracted")
}

func TestPipeline_RecoverableWorkerErrorDropsFile(t *testing.T) {
	exec := newFakeExecutor()
	exec.extractReplies["gone.js"] = worker.Reply{Err: errors.New("vanished"), ErrCode: worker.ErrCodeENOENT}
	pipeline, _ := newTestPipeline(exec, PipelineOptions{})

	files := snapshot.FileTable{"gone.js": {}}
	dropped, err := pipeline.Run(files, []string{"gone.js"})

	require.NoError(t, err)
	assert.Equal(t, []string{"gone.js"}, dropped)
}

func TestPipeline_FatalWorkerErrorAbortsRun(t *testing.T) {
	exec := newFakeExecutor()
	exec.extractReplies["bad.js"] = worker.Reply{Err: errors.New("disk on fire")}
	pipeline, _ := newTestPipeline(exec, PipelineOptions{})

	files := snapshot.FileTable{"bad.js": {}}
	_, err := pipeline.Run(files, []string{"bad.js"})

	assert.Error(t, err)
}

func TestPipeline_PanicsWhenCandidateHasNoFileEntry(t *testing.T) {
	exec := newFakeExecutor()
	pipeline, _ := newTestPipeline(exec, PipelineOptions{})

	assert.Panics(t, func() {
		_, _ = pipeline.Run(snapshot.FileTable{}, []string{"missing.js"})
	})
}
