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

// Package crawl implements the ignore filter (C2) and crawler facade (C3):
// deciding which paths are indexed, and producing a changed/removed file
// set by either a native walk or a delta from an indexing daemon.
package crawl

import (
	"path"
	"regexp"
	"strings"

	doublestar "github.com/bmatcuk/doublestar"
	gitignore "github.com/sabhiram/go-gitignore"
)

// vcsDirPattern matches any path segment under a VCS metadata directory.
// Always OR-composed into the ignore predicate, per spec §4.2.
var vcsDirPattern = regexp.MustCompile(`(^|/)\.(git|hg)(/|$)`)

// Matcher decides whether a root-relative, forward-slash path should be
// excluded from indexing.
type Matcher struct {
	custom          *regexp.Regexp
	customPredicate func(relPath string) bool
	hasteIgnore     *gitignore.GitIgnore
	retainAllFiles  bool
}

// Options configures a Matcher.
type Options struct {
	// Pattern is an optional regex source compiled against the
	// root-relative path (configured "ignorePattern").
	Pattern string
	// Predicate is an optional arbitrary predicate, mutually exclusive
	// with Pattern in practice but both are honored if both are set.
	Predicate func(relPath string) bool
	// HasteIgnoreContent is the optional content of a .hasteignore file
	// (gitignore syntax); the Builder reads it from the configured root
	// directory.
	HasteIgnoreContent string
	// RetainAllFiles disables the implicit node_modules exclusion.
	RetainAllFiles bool
}

// NewMatcher builds a Matcher from the given options. An invalid Pattern
// regex is returned as an error rather than silently ignored.
func NewMatcher(opts Options) (*Matcher, error) {
	m := &Matcher{
		customPredicate: opts.Predicate,
		retainAllFiles:  opts.RetainAllFiles,
	}
	if opts.Pattern != "" {
		re, err := regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, err
		}
		m.custom = re
	}
	if opts.HasteIgnoreContent != "" {
		m.hasteIgnore = gitignore.CompileIgnoreLines(strings.Split(opts.HasteIgnoreContent, "\n")...)
	}
	return m, nil
}

// Ignore reports whether relPath (root-relative, forward-slash) should be
// excluded from the crawl.
func (m *Matcher) Ignore(relPath string) bool {
	if vcsDirPattern.MatchString(relPath) {
		return true
	}
	if !m.retainAllFiles && isNodeModulesPath(relPath) {
		return true
	}
	if m.custom != nil && m.custom.MatchString(relPath) {
		return true
	}
	if m.customPredicate != nil && m.customPredicate(relPath) {
		return true
	}
	if m.hasteIgnore != nil && m.hasteIgnore.MatchesPath(relPath) {
		return true
	}
	return false
}

// isNodeModulesPath reports whether any path segment is "node_modules".
func isNodeModulesPath(relPath string) bool {
	for _, seg := range strings.Split(relPath, "/") {
		if seg == "node_modules" {
			return true
		}
	}
	return false
}

// MatchesAnyGlob reports whether relPath matches any of the given glob
// patterns, trying both filepath-style and doublestar-style (`**`) matching
// exactly as the teacher's watch-mode glob matching does.
func MatchesAnyGlob(relPath string, globs []string) bool {
	for _, glob := range globs {
		if ok, err := path.Match(glob, relPath); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(glob, relPath); err == nil && ok {
			return true
		}
	}
	return false
}
