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
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hastemap.dev/hastemap/internal/platform"
	"hastemap.dev/hastemap/snapshot"
)

func TestNativeCrawl_KeysAreRootSegmentInclusive(t *testing.T) {
	fsys := platform.NewMapFS(map[string]string{
		"src/Widget.js": "content",
	})

	result, err := NativeCrawl(fsys, Request{
		Roots:      []string{"src"},
		Extensions: []string{"js"},
		Prior:      snapshot.Empty(),
	})

	require.NoError(t, err)
	assert.Contains(t, result.Snapshot.Files, "src/Widget.js", "the stored key must include the root segment, not just the basename")
	assert.NotContains(t, result.Snapshot.Files, "Widget.js")
}

func TestNativeCrawl_KeysAreRootSegmentInclusiveWithAbsoluteRootDir(t *testing.T) {
	fsys := platform.NewMapFS(map[string]string{
		"project/src/Widget.js": "content",
	})

	result, err := NativeCrawl(fsys, Request{
		Roots:      []string{"src"},
		RootDir:    "project",
		Extensions: []string{"js"},
		Prior:      snapshot.Empty(),
	})

	require.NoError(t, err)
	assert.Contains(t, result.Snapshot.Files, "src/Widget.js", "the key must be relative to RootDir, including the root's own segment")
}

func TestNativeCrawl_DetectsChangedAndRemovedFiles(t *testing.T) {
	fsys := platform.NewMapFS(map[string]string{
		"src/Widget.js": "content",
	})

	prior := snapshot.Empty()
	prior.Files["src/Widget.js"] = snapshot.FileEntry{MTime: -1, Size: 999, Visited: true}
	prior.Files["src/Gone.js"] = snapshot.FileEntry{MTime: 0, Size: 0}

	result, err := NativeCrawl(fsys, Request{
		Roots:      []string{"src"},
		Extensions: []string{"js"},
		Prior:      prior,
	})

	require.NoError(t, err)
	assert.Contains(t, result.Changed, "src/Widget.js")
	assert.Contains(t, result.Removed, "src/Gone.js")
}

func TestNativeCrawl_VisitedUnchangedFileStaysUnchanged(t *testing.T) {
	fsys := platform.NewMapFS(nil)
	fsys.MapFS["src/Widget.js"] = &fstest.MapFile{Data: []byte("content"), ModTime: time.UnixMilli(0)}

	prior := snapshot.Empty()
	prior.Files["src/Widget.js"] = snapshot.FileEntry{MTime: 0, Size: int64(len("content")), Visited: true, HasteID: "Widget"}

	result, err := NativeCrawl(fsys, Request{
		Roots:      []string{"src"},
		Extensions: []string{"js"},
		Prior:      prior,
	})

	require.NoError(t, err)
	assert.NotContains(t, result.Changed, "src/Widget.js")
	assert.True(t, result.Snapshot.Files["src/Widget.js"].Visited)
}

func TestNativeCrawl_RespectsExtensionFilter(t *testing.T) {
	fsys := platform.NewMapFS(map[string]string{
		"src/Widget.js":  "content",
		"src/Widget.css": "body{}",
	})

	result, err := NativeCrawl(fsys, Request{
		Roots:      []string{"src"},
		Extensions: []string{"js"},
		Prior:      snapshot.Empty(),
	})

	require.NoError(t, err)
	assert.Contains(t, result.Snapshot.Files, "src/Widget.js")
	assert.NotContains(t, result.Snapshot.Files, "src/Widget.css")
}

func TestNativeCrawl_RespectsIgnoreMatcher(t *testing.T) {
	fsys := platform.NewMapFS(map[string]string{
		"src/node_modules/left-pad/index.js": "content",
		"src/Widget.js":                      "content",
	})
	ignore, err := NewMatcher(Options{})
	require.NoError(t, err)

	result, err := NativeCrawl(fsys, Request{
		Roots:      []string{"src"},
		Extensions: []string{"js"},
		Ignore:     ignore,
		Prior:      snapshot.Empty(),
	})

	require.NoError(t, err)
	assert.Contains(t, result.Snapshot.Files, "src/Widget.js")
	assert.NotContains(t, result.Snapshot.Files, "src/node_modules/left-pad/index.js")
}

func TestNativeCrawl_MergesMultipleRootsConcurrently(t *testing.T) {
	fsys := platform.NewMapFS(map[string]string{
		"src/Widget.js": "content",
		"lib/Helper.js": "content",
	})

	result, err := NativeCrawl(fsys, Request{
		Roots:      []string{"src", "lib"},
		Extensions: []string{"js"},
		Prior:      snapshot.Empty(),
	})

	require.NoError(t, err)
	assert.Contains(t, result.Snapshot.Files, "src/Widget.js")
	assert.Contains(t, result.Snapshot.Files, "lib/Helper.js")
}

func TestRelativeTo_EmptyRootStripsLeadingSlash(t *testing.T) {
	assert.Equal(t, "src/Widget.js", relativeTo("", "/src/Widget.js"))
}

func TestRelativeTo_NonEmptyRootStaysRootSegmentInclusive(t *testing.T) {
	assert.Equal(t, "src/Widget.js", relativeTo("project", "/project/src/Widget.js"))
}
