// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"agentbox-cli/internal/issue"
	"agentbox-cli/internal/profile"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List available profile definitions",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := profile.NewStore()
		if err != nil {
			return reportError(issue.WrapWithStage(err, issue.StageProfile, "load profile definitions"))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROFILE\tVERSIONS\tDEFAULT\tDESCRIPTION")
		for _, def := range store.List() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				CmdStyle.Render(def.Name),
				strings.Join(def.Versions, ", "),
				def.DefaultVersion,
				def.Description,
			)
		}
		return w.Flush()
	},
}
