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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hastemap.dev/hastemap/cmd/config"
	"hastemap.dev/hastemap/internal/platform"
)

func neverDaemon() bool { return false }

func newTestBuilder(t *testing.T, files map[string]string, cfg *config.HasteConfig) *Builder {
	t.Helper()
	fsys := platform.NewMapFS(files)
	if cfg.Roots == nil {
		cfg.Roots = []string{"src"}
	}
	if cfg.Extensions == nil {
		cfg.Extensions = []string{"js"}
	}
	return NewBuilder(cfg, fsys, neverDaemon, "/cache/snapshot")
}

func TestBuilder_BuildIndexesProvidedModules(t *testing.T) {
	b := newTestBuilder(t, map[string]string{
		"src/Widget.js": "/** @providesModule Widget */\nrequire('react');",
	}, &config.HasteConfig{ComputeDependencies: true})

	result, err := b.Build()
	require.NoError(t, err)

	assert.True(t, result.FS.Exists("src/Widget.js"))
	res := result.Map.Resolve("Widget", "")
	assert.True(t, res.Found)
	assert.Equal(t, "src/Widget.js", res.Path)
	assert.False(t, res.Ambiguous)
}

func TestBuilder_BuildIsIdempotentAcrossConcurrentCallers(t *testing.T) {
	b := newTestBuilder(t, map[string]string{
		"src/Widget.js": "/** @providesModule Widget */",
	}, &config.HasteConfig{})

	var wg sync.WaitGroup
	results := make([]BuildResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := b.Build()
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		assert.Same(t, results[0].FS, results[i].FS, "every caller must observe the one memoized build")
	}
	assert.Equal(t, StateDone, b.State())
}

func TestBuilder_CollisionRecordsDuplicateWithoutThrowing(t *testing.T) {
	b := newTestBuilder(t, map[string]string{
		"src/a/Widget.js": "/** @providesModule Widget */",
		"src/b/Widget.js": "/** @providesModule Widget */",
	}, &config.HasteConfig{})

	result, err := b.Build()
	require.NoError(t, err)

	res := result.Map.Resolve("Widget", "")
	assert.True(t, res.Found)
	assert.True(t, res.Ambiguous)
}

func TestBuilder_CollisionThrowsWhenConfigured(t *testing.T) {
	b := newTestBuilder(t, map[string]string{
		"src/a/Widget.js": "/** @providesModule Widget */",
		"src/b/Widget.js": "/** @providesModule Widget */",
	}, &config.HasteConfig{ThrowOnModuleCollision: true})

	_, err := b.Build()
	assert.Error(t, err)
}

func TestBuilder_PlatformVariantsCoexist(t *testing.T) {
	b := newTestBuilder(t, map[string]string{
		"src/Widget.ios.js":     "/** @providesModule Widget */",
		"src/Widget.android.js": "/** @providesModule Widget */",
	}, &config.HasteConfig{Platforms: []string{"ios", "android"}})

	result, err := b.Build()
	require.NoError(t, err)

	ios := result.Map.Resolve("Widget", "ios")
	android := result.Map.Resolve("Widget", "android")
	assert.Equal(t, "src/Widget.ios.js", ios.Path)
	assert.Equal(t, "src/Widget.android.js", android.Path)
	assert.False(t, ios.Ambiguous)
	assert.False(t, android.Ambiguous)
}

func TestBuilder_MocksPatternRegistersMockBindings(t *testing.T) {
	b := newTestBuilder(t, map[string]string{
		"src/__mocks__/Widget.js": "/** mock */",
	}, &config.HasteConfig{MocksPattern: `__mocks__/`})

	result, err := b.Build()
	require.NoError(t, err)

	path, found := result.Map.ResolveMock("Widget")
	assert.True(t, found)
	assert.Equal(t, "src/__mocks__/Widget.js", path)
}

func TestBuilder_WatchModeHandsOffWatcher(t *testing.T) {
	b := newTestBuilder(t, map[string]string{
		"src/Widget.js": "/** @providesModule Widget */",
	}, &config.HasteConfig{Watch: true})

	result, err := b.Build()
	require.NoError(t, err)

	require.NotNil(t, result.Watcher)
}

func TestBuilder_NonWatchModeLeavesWatcherNil(t *testing.T) {
	b := newTestBuilder(t, map[string]string{
		"src/Widget.js": "/** @providesModule Widget */",
	}, &config.HasteConfig{})

	result, err := b.Build()
	require.NoError(t, err)

	assert.Nil(t, result.Watcher)
}
