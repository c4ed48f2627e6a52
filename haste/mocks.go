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
	"path"
	"regexp"
	"strings"

	"hastemap.dev/hastemap/internal/logging"
	"hastemap.dev/hastemap/snapshot"
)

// MockRegistry enforces "at most one relative path per mock name" (C7).
type MockRegistry struct {
	Mocks                  snapshot.MockTable
	Pattern                *regexp.Regexp
	ThrowOnModuleCollision bool
}

// NewMockRegistry compiles mocksPattern (a regex source matched against
// the root-relative path) into a MockRegistry. An empty pattern disables
// mock registration entirely.
func NewMockRegistry(mocks snapshot.MockTable, mocksPattern string, throwOnCollision bool) (*MockRegistry, error) {
	var re *regexp.Regexp
	if mocksPattern != "" {
		var err error
		re, err = regexp.Compile(mocksPattern)
		if err != nil {
			return nil, err
		}
	}
	return &MockRegistry{Mocks: mocks, Pattern: re, ThrowOnModuleCollision: throwOnCollision}, nil
}

// Matches reports whether relPath matches the configured mocksPattern.
func (r *MockRegistry) Matches(relPath string) bool {
	return r.Pattern != nil && r.Pattern.MatchString(relPath)
}

// Register binds relPath's mock name into the MockTable (spec §4.7). If
// the name is already bound to a different path, emits a collision
// diagnostic and, if configured, returns a DuplicateError.
func (r *MockRegistry) Register(relPath string) error {
	name := mockName(relPath)
	if existing, ok := r.Mocks[name]; ok && existing != relPath {
		if r.ThrowOnModuleCollision {
			logging.Error("mock collision: %q and %q both provide mock %q", existing, relPath, name)
			return &DuplicateError{PathA: existing, PathB: relPath}
		}
		logging.Warning("mock collision: %q and %q both provide mock %q", existing, relPath, name)
	}
	r.Mocks[name] = relPath
	return nil
}

// Unregister removes relPath's mock binding, if it is still the current
// holder of its mock name (used on file removal, spec §4.9 step 6).
func (r *MockRegistry) Unregister(relPath string) {
	name := mockName(relPath)
	if r.Mocks[name] == relPath {
		delete(r.Mocks, name)
	}
}

// mockName computes basename-without-extension(path), per spec §4.7.
func mockName(relPath string) string {
	base := path.Base(relPath)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return base
}
