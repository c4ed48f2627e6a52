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
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hastemap.dev/hastemap/crawl"
	"hastemap.dev/hastemap/haste"
	"hastemap.dev/hastemap/internal/logging"
	"hastemap.dev/hastemap/internal/platform"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the haste module map once and persist it to the cache",
	Long: `Crawls the configured roots, extracts haste module identifiers and
dependencies from changed files, merges the result with any cached
snapshot, and writes the updated snapshot back to the cache.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		printStats, _ := cmd.Flags().GetBool("print-stats")

		cachePath := cachePathFor(cfg)
		if cfg.ResetCache {
			if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
				logging.Warning("could not remove cache at %s: %v", cachePath, err)
			}
		}

		builder := haste.NewBuilder(cfg, platform.NewOSFileSystem(), crawl.DefaultDaemonProbe, cachePath)
		result, err := builder.Build()
		if err != nil {
			return fmt.Errorf("build: %w", err)
		}

		elapsed := time.Since(start)
		pterm.Success.Printf("Built haste map for %d file(s) in %s\n", result.FS.Len(), elapsed)

		if printStats {
			printBuildStats(result)
		}

		return nil
	},
}

func printBuildStats(result haste.BuildResult) {
	rows := pterm.TableData{
		{"Metric", "Count"},
		{"Files", fmt.Sprintf("%d", result.FS.Len())},
		{"Changed", fmt.Sprintf("%d", len(result.Changed))},
		{"Removed", fmt.Sprintf("%d", len(result.Removed))},
		{"Modules", fmt.Sprintf("%d", len(result.Snapshot.Modules))},
		{"Mocks", fmt.Sprintf("%d", len(result.Snapshot.Mocks))},
		{"Duplicates", fmt.Sprintf("%d", len(result.Snapshot.Duplicates))},
	}
	if result.UsedDaemon {
		rows = append(rows, []string{"Crawler", "watchman"})
	} else {
		rows = append(rows, []string{"Crawler", "native"})
	}

	out, err := pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(rows).Srender()
	if err != nil {
		pterm.Warning.Printf("failed to render stats table: %v\n", err)
		return
	}
	pterm.DefaultSection.Println("Build stats")
	pterm.Println(out)

	for id, platforms := range result.Snapshot.Duplicates {
		for plat, kinds := range platforms {
			pterm.Warning.Printf("duplicate module %q (platform %q) has %d colliding binding(s)\n", id, plat, len(kinds))
		}
	}
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().Bool("print-stats", false, "print a summary table of files, modules, and collisions after the build")
	buildCmd.Flags().Bool("reset-cache", false, "discard any cached snapshot and rebuild from scratch")
	buildCmd.Flags().Bool("compute-sha1", false, "compute a sha1 digest for every file")
	buildCmd.Flags().Bool("compute-dependencies", true, "extract require()-style dependencies from each file")
	buildCmd.Flags().Bool("use-watchman", false, "prefer the watchman daemon over the native crawler when available")
	buildCmd.Flags().Int("max-workers", 0, "number of worker processes to extract with (0 selects the default)")
	viper.BindPFlag("resetCache", buildCmd.Flags().Lookup("reset-cache"))
	viper.BindPFlag("computeSha1", buildCmd.Flags().Lookup("compute-sha1"))
	viper.BindPFlag("computeDependencies", buildCmd.Flags().Lookup("compute-dependencies"))
	viper.BindPFlag("useWatchman", buildCmd.Flags().Lookup("use-watchman"))
	viper.BindPFlag("maxWorkers", buildCmd.Flags().Lookup("max-workers"))
}
