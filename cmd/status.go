// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusSlot int
	statusDir  string

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show one slot's reconciled state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := workdir(statusDir)
			if err != nil {
				return reportError(err)
			}

			a, err := newApp()
			if err != nil {
				return reportError(err)
			}
			defer a.Close()

			rec, err := a.orch.Status(cmd.Context(), dir, statusSlot)
			if err != nil {
				return reportError(err)
			}
			if rec == nil {
				fmt.Printf("slot %d: %s\n", statusSlot, SubtitleStyle.Render("absent"))
				return nil
			}

			fmt.Printf("slot %d: %s\n", rec.Slot, statusStyle(string(rec.Status)).Render(string(rec.Status)))
			fmt.Printf("  provider:   %s\n", CmdStyle.Render(rec.Provider))
			fmt.Printf("  container:  %s\n", rec.ContainerName)
			if rec.Image != "" {
				fmt.Printf("  image:      %s\n", rec.Image)
			}
			fmt.Printf("  created:    %s\n", rec.CreatedAt.Local().Format(time.DateTime))
			fmt.Printf("  last used:  %s\n", rec.LastUsed.Local().Format(time.DateTime))
			if rec.SessionReady {
				fmt.Printf("  session:    %s\n", SuccessStyle.Render("ready"))
			}
			return nil
		},
	}
)

func init() {
	statusCmd.Flags().IntVarP(&statusSlot, "slot", "s", 1, "slot number")
	statusCmd.Flags().StringVarP(&statusDir, "dir", "d", "", "project directory (default: current directory)")
}
