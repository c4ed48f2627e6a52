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

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/viper"

	"hastemap.dev/hastemap/cmd/config"
	"hastemap.dev/hastemap/internal/version"
	"hastemap.dev/hastemap/snapshot"
)

// loadConfig builds a HasteConfig from whatever initConfig already loaded
// into viper (config file plus bound persistent flags), fills in the
// defaults a bare invocation relies on, and validates the result.
func loadConfig() (*config.HasteConfig, error) {
	var cfg config.HasteConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	if cfg.ProjectDir == "" {
		cfg.ProjectDir = viper.GetString("projectDir")
	}
	if cfg.RootDir == "" {
		cfg.RootDir = cfg.ProjectDir
	}
	if len(cfg.Roots) == 0 {
		cfg.Roots = []string{"."}
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{"js", "jsx", "ts", "tsx"}
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(cfg.ProjectDir)
	}
	if cfg.CacheDirectory == "" {
		cfg.CacheDirectory = filepath.Join(cfg.ProjectDir, ".config", "hastemap-cache")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// cachePathFor derives the cache file path for cfg, folding in everything
// that would invalidate a prior build's snapshot if it changed.
func cachePathFor(cfg *config.HasteConfig) string {
	return snapshot.Path(cfg.CacheDirectory, cfg.Name, snapshot.KeyParts{
		ToolVersion:            version.GetVersion(),
		ProjectName:            cfg.Name,
		RootDirDigest:          fmt.Sprintf("%016x", xxhash.Sum64String(cfg.RootDir)),
		Roots:                  cfg.Roots,
		Extensions:             cfg.Extensions,
		Platforms:              cfg.Platforms,
		ComputeSha1:            cfg.ComputeSha1,
		MocksPattern:           cfg.MocksPattern,
		IgnorePatternSource:    cfg.IgnorePattern,
		HasteImplCacheKey:      cfg.HasteImplModulePath,
		DependencyExtractorKey: cfg.DependencyExtractor,
	})
}
