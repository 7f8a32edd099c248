// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cleanupSlot   int
	cleanupDir    string
	cleanupAll    bool
	cleanupPurge  bool
	cleanupImages bool

	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove slots and their containers",
		Long: `Cleanup returns slots to the absent state: containers are removed and
records deleted. Credentials survive unless --purge is given, so a
recreated slot stays logged in. With --images the cached images and
their cache entries are deleted too. Cleaning up an already absent
slot succeeds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := workdir(cleanupDir)
			if err != nil {
				return reportError(err)
			}

			a, err := newApp()
			if err != nil {
				return reportError(err)
			}
			defer a.Close()

			if cleanupAll {
				if err := a.orch.CleanupAll(cmd.Context(), dir, cleanupPurge); err != nil {
					return reportError(err)
				}
				fmt.Println(SuccessStyle.Render("✓") + " all slots removed")
			} else {
				if err := a.orch.Cleanup(cmd.Context(), dir, cleanupSlot, cleanupPurge); err != nil {
					return reportError(err)
				}
				fmt.Printf("%s slot %d removed\n", SuccessStyle.Render("✓"), cleanupSlot)
			}

			if cleanupImages {
				n, err := a.removeCachedImages(cmd.Context())
				if err != nil {
					return reportError(err)
				}
				fmt.Printf("%s %d cached image(s) removed\n", SuccessStyle.Render("✓"), n)
			}
			return nil
		},
	}
)

func init() {
	cleanupCmd.Flags().IntVarP(&cleanupSlot, "slot", "s", 1, "slot number")
	cleanupCmd.Flags().StringVarP(&cleanupDir, "dir", "d", "", "project directory (default: current directory)")
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "remove every slot of the project")
	cleanupCmd.Flags().BoolVar(&cleanupPurge, "purge", false, "also delete stored credentials")
	cleanupCmd.Flags().BoolVar(&cleanupImages, "images", false, "also delete cached images")
}
