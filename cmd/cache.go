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

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or manage the persisted snapshot cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the persisted snapshot for this project's configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		cachePath := cachePathFor(cfg)
		removed := false
		for _, p := range []string{cachePath, cachePath + ".lock"} {
			if err := os.Remove(p); err != nil {
				if !os.IsNotExist(err) {
					return fmt.Errorf("remove %s: %w", p, err)
				}
				continue
			}
			removed = true
		}

		if removed {
			pterm.Success.Printf("Cleared cache at %s\n", cachePath)
		} else {
			pterm.Info.Printf("No cache found at %s\n", cachePath)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
