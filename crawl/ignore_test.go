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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_AlwaysIgnoresVCSDirs(t *testing.T) {
	m, err := NewMatcher(Options{})
	require.NoError(t, err)

	assert.True(t, m.Ignore(".git/HEAD"))
	assert.True(t, m.Ignore("src/.hg/store"))
	assert.False(t, m.Ignore("src/gitignore.js"))
}

func TestMatcher_NodeModulesExcludedByDefault(t *testing.T) {
	m, err := NewMatcher(Options{})
	require.NoError(t, err)

	assert.True(t, m.Ignore("node_modules/left-pad/index.js"))
	assert.True(t, m.Ignore("src/node_modules/nested/index.js"))
}

func TestMatcher_RetainAllFilesDisablesNodeModulesExclusion(t *testing.T) {
	m, err := NewMatcher(Options{RetainAllFiles: true})
	require.NoError(t, err)

	assert.False(t, m.Ignore("node_modules/left-pad/index.js"))
}

func TestMatcher_CustomPatternExcludes(t *testing.T) {
	m, err := NewMatcher(Options{Pattern: `__fixtures__/`})
	require.NoError(t, err)

	assert.True(t, m.Ignore("src/__fixtures__/foo.js"))
	assert.False(t, m.Ignore("src/foo.js"))
}

func TestMatcher_InvalidPatternErrors(t *testing.T) {
	_, err := NewMatcher(Options{Pattern: "("})
	assert.Error(t, err)
}

func TestMatcher_CustomPredicateExcludes(t *testing.T) {
	m, err := NewMatcher(Options{Predicate: func(relPath string) bool {
		return relPath == "src/Skip.js"
	}})
	require.NoError(t, err)

	assert.True(t, m.Ignore("src/Skip.js"))
	assert.False(t, m.Ignore("src/Keep.js"))
}

func TestMatcher_HasteIgnoreContentUsesGitignoreSyntax(t *testing.T) {
	m, err := NewMatcher(Options{HasteIgnoreContent: "*.generated.js\nbuild/"})
	require.NoError(t, err)

	assert.True(t, m.Ignore("src/Widget.generated.js"))
	assert.True(t, m.Ignore("build/out.js"))
	assert.False(t, m.Ignore("src/Widget.js"))
}

func TestMatchesAnyGlob(t *testing.T) {
	assert.True(t, MatchesAnyGlob("src/Widget.js", []string{"src/*.js"}))
	assert.True(t, MatchesAnyGlob("src/a/b/Widget.js", []string{"src/**/*.js"}))
	assert.False(t, MatchesAnyGlob("src/Widget.css", []string{"src/*.js"}))
}
