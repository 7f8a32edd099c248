// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	stopSlot int
	stopDir  string

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop a slot's container",
		Long: `Stop halts the container of one slot. The slot record stays, so the
next start with the same provider reuses the container and its
filesystem state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := workdir(stopDir)
			if err != nil {
				return reportError(err)
			}

			a, err := newApp()
			if err != nil {
				return reportError(err)
			}
			defer a.Close()

			rec, err := a.orch.Stop(cmd.Context(), dir, stopSlot)
			if err != nil {
				return reportError(err)
			}
			if rec == nil {
				fmt.Printf("%s slot %d is gone\n", WarningStyle.Render("!"), stopSlot)
				return nil
			}
			fmt.Printf("%s slot %d stopped\n", SuccessStyle.Render("✓"), rec.Slot)
			return nil
		},
	}
)

func init() {
	stopCmd.Flags().IntVarP(&stopSlot, "slot", "s", 1, "slot number")
	stopCmd.Flags().StringVarP(&stopDir, "dir", "d", "", "project directory (default: current directory)")
}
