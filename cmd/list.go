// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	listDir string

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List this project's slots",
		Long: `List shows every slot of the current project with its provider,
container, and reconciled state. Records that disagree with the
container runtime are corrected before display.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := workdir(listDir)
			if err != nil {
				return reportError(err)
			}

			a, err := newApp()
			if err != nil {
				return reportError(err)
			}
			defer a.Close()

			records, err := a.orch.List(cmd.Context(), dir)
			if err != nil {
				return reportError(err)
			}
			if len(records) == 0 {
				fmt.Println(SubtitleStyle.Render("no slots; run 'agentbox start <provider>' to create one"))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SLOT\tPROVIDER\tSTATUS\tCONTAINER\tLAST USED")
			for _, rec := range records {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					rec.Slot,
					CmdStyle.Render(rec.Provider),
					statusStyle(string(rec.Status)).Render(string(rec.Status)),
					rec.ContainerName,
					rec.LastUsed.Local().Format(time.DateTime),
				)
			}
			return w.Flush()
		},
	}
)

func init() {
	listCmd.Flags().StringVarP(&listDir, "dir", "d", "", "project directory (default: current directory)")
}
