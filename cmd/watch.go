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
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"hastemap.dev/hastemap/crawl"
	"hastemap.dev/hastemap/haste"
	"hastemap.dev/hastemap/internal/platform"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Build the haste module map and keep it updated as files change",
	Long: `Performs an initial build like "hastemap build", then attaches a
filesystem watcher to every configured root. Changes are coalesced and
re-extracted incrementally, and the snapshot is kept current in memory
until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Watch = true

		builder := haste.NewBuilder(cfg, platform.NewOSFileSystem(), crawl.DefaultDaemonProbe, cachePathFor(cfg))
		result, err := builder.Build()
		if err != nil {
			return fmt.Errorf("initial build: %w", err)
		}
		if result.Watcher == nil {
			return fmt.Errorf("watch mode requested but builder did not attach a watcher")
		}

		pterm.Success.Printf("Watching %d root(s): %v\n", len(cfg.Roots), cfg.Roots)

		result.Watcher.OnChange = func(notification haste.ChangeNotification) {
			pterm.Info.Printf("haste map updated: %d event(s)\n", len(notification.Events))
			for _, ev := range notification.Events {
				pterm.Debug.Printf("  %s %s\n", ev.Type, ev.RelPath)
			}
		}

		if err := result.Watcher.Start(); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer result.Watcher.End()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		pterm.Info.Println("Shutting down watcher...")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
