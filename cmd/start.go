// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentbox-cli/internal/orchestrator"
)

var (
	startSlot       int
	startDir        string
	startAutoDelete bool
	startRecreate   bool

	startCmd = &cobra.Command{
		Use:   "start <provider>",
		Short: "Start an agent session in a slot container",
		Long: `Start provisions (or reuses) a slot container for this project and
attaches you to the provider's CLI inside it. The image is built on
first use and cached by its content fingerprint; later starts with the
same profiles reuse it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := workdir(startDir)
			if err != nil {
				return reportError(err)
			}

			a, err := newApp()
			if err != nil {
				return reportError(err)
			}
			defer a.Close()

			session, err := a.orch.Start(cmd.Context(), orchestrator.StartRequest{
				ProjectDir: dir,
				Slot:       startSlot,
				Provider:   args[0],
				AutoDelete: startAutoDelete,
				Recreate:   startRecreate,
			})
			if err != nil {
				return reportError(err)
			}

			if session.Record == nil {
				fmt.Println(SuccessStyle.Render("✓") + " session ended, slot removed")
			} else {
				fmt.Printf("%s session ended, slot %d %s\n",
					SuccessStyle.Render("✓"),
					session.Record.Slot,
					statusStyle(string(session.Record.Status)).Render(string(session.Record.Status)))
			}
			if session.ExitCode != 0 {
				return &ExitError{Code: session.ExitCode}
			}
			return nil
		},
	}
)

func init() {
	startCmd.Flags().IntVarP(&startSlot, "slot", "s", 0, "slot number (default: reuse or first free)")
	startCmd.Flags().StringVarP(&startDir, "dir", "d", "", "project directory (default: current directory)")
	startCmd.Flags().BoolVar(&startAutoDelete, "auto-delete", false, "remove the slot when the session ends")
	startCmd.Flags().BoolVar(&startRecreate, "recreate", false, "discard the slot's container before starting (keeps credentials)")
}
