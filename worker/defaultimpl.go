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

import "regexp"

// The real haste-impl and dependency-extractor plugins are out-of-scope
// collaborators (spec §1): they are user-supplied, loaded by path, and
// executed in the worker's address space. DefaultHasteImpl and
// DefaultDependencyExtractor are a minimal, always-available fallback so
// the pipeline is exercisable without a real plugin configured.

// providesModulePattern recognizes a `@providesModule Name` declaration
// inside a leading comment block, the haste-id convention this system
// indexes by.
var providesModulePattern = regexp.MustCompile(`@providesModule\s+(\S+)`)

// requireLiteralPattern recognizes string-literal require(...) calls.
var requireLiteralPattern = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)

// DefaultHasteImpl is the fallback haste-id extractor: it scans for a
// `@providesModule` comment, the only convention this fallback recognizes.
type DefaultHasteImpl struct{}

// GetCacheKey returns a constant, since this implementation has no
// configuration that could change its output.
func (DefaultHasteImpl) GetCacheKey() string { return "default-haste-impl-v1" }

// GetHasteName extracts the declared module name from file content, or
// "" if none is declared.
func (DefaultHasteImpl) GetHasteName(content []byte) string {
	m := providesModulePattern.FindSubmatch(content)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// DefaultDependencyExtractor is the fallback dependency scanner: it
// collects every string-literal require(...) call, in source order,
// de-duplicated.
type DefaultDependencyExtractor struct{}

func (DefaultDependencyExtractor) GetCacheKey() string { return "default-dependency-extractor-v1" }

func (DefaultDependencyExtractor) Extract(content []byte) []string {
	matches := requireLiteralPattern.FindAllSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	deps := make([]string, 0, len(matches))
	for _, m := range matches {
		dep := string(m[1])
		if seen[dep] {
			continue
		}
		seen[dep] = true
		deps = append(deps, dep)
	}
	return deps
}
