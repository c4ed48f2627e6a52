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
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hastemap.dev/hastemap/cmd/config"
	"hastemap.dev/hastemap/crawl"
	"hastemap.dev/hastemap/internal/platform"
	"hastemap.dev/hastemap/snapshot"
)

// newTestWatcher builds a Watcher wired to fsys (the same instance backs
// both raw-event stat lookups and the in-band extractor, matching how
// NewWatcher wires a single platform.FileSystem throughout).
func newTestWatcher(t *testing.T, fsys *platform.MapFS, cfg *config.HasteConfig, snap snapshot.Snapshot) (*Watcher, *platform.MockFileWatcher) {
	t.Helper()
	ignore, err := crawl.NewMatcher(crawl.Options{RetainAllFiles: true})
	require.NoError(t, err)

	mockFW := platform.NewMockFileWatcher()
	if cfg.Roots == nil {
		cfg.Roots = []string{"src"}
	}
	if cfg.Extensions == nil {
		cfg.Extensions = []string{"js"}
	}

	w := NewWatcher(cfg, fsys, ignore, func() (platform.FileWatcher, error) { return mockFW, nil }, snap)
	return w, mockFW
}

func putFile(fsys *platform.MapFS, path, content string, mtime time.Time) {
	fsys.MapFS[path] = &fstest.MapFile{Data: []byte(content), ModTime: mtime}
}

func TestWatcher_HandleRawEvent_AddRegistersModule(t *testing.T) {
	fsys := platform.NewMapFS(nil)
	putFile(fsys, "src/Widget.js", "/** @providesModule Widget */", time.Unix(100, 0))
	w, _ := newTestWatcher(t, fsys, &config.HasteConfig{}, snapshot.Empty())

	w.handleRawEvent(platform.FileWatchEvent{Name: "src/Widget.js", Op: platform.Create})

	entry, ok := w.snapshot.Files["src/Widget.js"]
	require.True(t, ok)
	assert.True(t, entry.Visited)
	assert.Equal(t, "Widget", entry.HasteID)
	assert.Equal(t, "src/Widget.js", w.registry.Modules["Widget"][snapshot.Generic].Path)
	require.Len(t, w.eventsQueue, 1)
	assert.Equal(t, EventAdd, w.eventsQueue[0].Type)
}

func TestWatcher_HandleRawEvent_DropsUnconfiguredExtension(t *testing.T) {
	fsys := platform.NewMapFS(nil)
	putFile(fsys, "src/Widget.css", "body{}", time.Unix(100, 0))
	w, _ := newTestWatcher(t, fsys, &config.HasteConfig{}, snapshot.Empty())

	w.handleRawEvent(platform.FileWatchEvent{Name: "src/Widget.css", Op: platform.Create})

	assert.Empty(t, w.eventsQueue)
	assert.NotContains(t, w.snapshot.Files, "src/Widget.css")
}

func TestWatcher_HandleRawEvent_DropsAccessOnlyChange(t *testing.T) {
	snap := snapshot.Empty()
	snap.Files["src/Widget.js"] = snapshot.FileEntry{MTime: 100, Size: 5}
	fsys := platform.NewMapFS(nil)
	putFile(fsys, "src/Widget.js", "hello", time.UnixMilli(100))
	w, _ := newTestWatcher(t, fsys, &config.HasteConfig{}, snap)

	w.handleRawEvent(platform.FileWatchEvent{Name: "src/Widget.js", Op: platform.Write})

	assert.Empty(t, w.eventsQueue, "a write event with an unchanged mtime must be dropped as access-only")
}

func TestWatcher_HandleRawEvent_DropsDuplicateQueuedEvent(t *testing.T) {
	fsys := platform.NewMapFS(nil)
	putFile(fsys, "src/Widget.js", "content", time.UnixMilli(200))
	w, _ := newTestWatcher(t, fsys, &config.HasteConfig{}, snapshot.Empty())

	w.handleRawEvent(platform.FileWatchEvent{Name: "src/Widget.js", Op: platform.Create})
	w.handleRawEvent(platform.FileWatchEvent{Name: "src/Widget.js", Op: platform.Create})

	assert.Len(t, w.eventsQueue, 1, "an identical (type, path, mtime) event must not be queued twice")
}

func TestWatcher_HandleRawEvent_RecoversBindingOnChangeThenReextract(t *testing.T) {
	snap := snapshot.Empty()
	snap.Files["src/Widget.js"] = snapshot.FileEntry{MTime: 100, HasteID: "Widget", Visited: true}
	snap.Modules["Widget"] = snapshot.PlatformMap{snapshot.Generic: {Path: "src/Widget.js", Kind: snapshot.KindModule}}

	fsys := platform.NewMapFS(nil)
	putFile(fsys, "src/Widget.js", "/** @providesModule WidgetRenamed */", time.UnixMilli(200))
	w, _ := newTestWatcher(t, fsys, &config.HasteConfig{}, snap)

	w.handleRawEvent(platform.FileWatchEvent{Name: "src/Widget.js", Op: platform.Write})

	assert.NotContains(t, w.registry.Modules, "Widget", "the old id's binding must be torn down before re-extraction")
	assert.Equal(t, "src/Widget.js", w.registry.Modules["WidgetRenamed"][snapshot.Generic].Path)
}

func TestWatcher_HandleRawEvent_DeleteRemovesFileAndBinding(t *testing.T) {
	snap := snapshot.Empty()
	snap.Files["src/Widget.js"] = snapshot.FileEntry{MTime: 100, HasteID: "Widget"}
	snap.Modules["Widget"] = snapshot.PlatformMap{snapshot.Generic: {Path: "src/Widget.js", Kind: snapshot.KindModule}}

	fsys := platform.NewMapFS(nil)
	w, _ := newTestWatcher(t, fsys, &config.HasteConfig{}, snap)

	w.handleRawEvent(platform.FileWatchEvent{Name: "src/Widget.js", Op: platform.Remove})

	assert.NotContains(t, w.snapshot.Files, "src/Widget.js")
	assert.NotContains(t, w.registry.Modules, "Widget")
	require.Len(t, w.eventsQueue, 1)
	assert.Equal(t, EventDelete, w.eventsQueue[0].Type)
}

func TestWatcher_HandleRawEvent_CopyOnWriteProtectsPriorSnapshotView(t *testing.T) {
	fsys := platform.NewMapFS(nil)
	putFile(fsys, "src/Widget.js", "/** @providesModule Widget */", time.UnixMilli(100))
	w, _ := newTestWatcher(t, fsys, &config.HasteConfig{}, snapshot.Empty())

	priorFiles := w.snapshot.Files

	w.handleRawEvent(platform.FileWatchEvent{Name: "src/Widget.js", Op: platform.Create})

	assert.NotContains(t, priorFiles, "src/Widget.js", "a reference captured before the mutating frame must not observe it")
	assert.Contains(t, w.snapshot.Files, "src/Widget.js")
}

func TestWatcher_Emit_FlushesQueueAndResetsCOWFlag(t *testing.T) {
	fsys := platform.NewMapFS(nil)
	putFile(fsys, "src/Widget.js", "/** @providesModule Widget */", time.UnixMilli(100))
	w, _ := newTestWatcher(t, fsys, &config.HasteConfig{}, snapshot.Empty())

	var got ChangeNotification
	received := make(chan struct{})
	w.OnChange = func(n ChangeNotification) {
		got = n
		close(received)
	}

	w.handleRawEvent(platform.FileWatchEvent{Name: "src/Widget.js", Op: platform.Create})
	w.emit()

	<-received
	require.Len(t, got.Events, 1)
	assert.Equal(t, "src/Widget.js", got.Events[0].RelPath)
	assert.Empty(t, w.eventsQueue)
	assert.True(t, w.frameNeedsCOW, "emit must mark the next mutation to clone the snapshot")
}

func TestWatcher_Emit_NoOpWhenQueueEmpty(t *testing.T) {
	fsys := platform.NewMapFS(nil)
	w, _ := newTestWatcher(t, fsys, &config.HasteConfig{}, snapshot.Empty())

	called := false
	w.OnChange = func(ChangeNotification) { called = true }

	w.emit()

	assert.False(t, called)
}

// TestWatcher_StartCoalescesEventsIntoOneNotification exercises the full
// Start/emission-timer path: several rapid raw events land in the same
// ChangeInterval window and must surface as a single ChangeNotification.
func TestWatcher_StartCoalescesEventsIntoOneNotification(t *testing.T) {
	fsys := platform.NewMapFS(nil)
	putFile(fsys, "src/Widget.js", "/** @providesModule Widget */", time.UnixMilli(100))
	putFile(fsys, "src/Gadget.js", "/** @providesModule Gadget */", time.UnixMilli(100))

	w, mockFW := newTestWatcher(t, fsys, &config.HasteConfig{}, snapshot.Empty())

	notifications := make(chan ChangeNotification, 8)
	w.OnChange = func(n ChangeNotification) { notifications <- n }

	require.NoError(t, w.Start())
	defer w.End()

	mockFW.TriggerEvent("src/Widget.js", platform.Create)
	mockFW.TriggerEvent("src/Gadget.js", platform.Create)

	select {
	case n := <-notifications:
		assert.Len(t, n.Events, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coalesced change notification")
	}
}

func TestWatcher_End_IsIdempotent(t *testing.T) {
	fsys := platform.NewMapFS(nil)
	putFile(fsys, "src/Widget.js", "/** @providesModule Widget */", time.UnixMilli(100))

	w, _ := newTestWatcher(t, fsys, &config.HasteConfig{}, snapshot.Empty())

	require.NoError(t, w.Start())

	assert.NotPanics(t, func() {
		w.End()
		w.End()
	})
}
