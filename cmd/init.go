// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"agentbox-cli/internal/config"
	"agentbox-cli/internal/issue"
	"agentbox-cli/internal/project"
)

var (
	initDir      string
	initName     string
	initProfiles []string

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create a project configuration",
		Long: `Init registers the current directory as an agentbox project: it writes
the project configuration under the agentbox home and a small marker
file (.agentbox/ref) in the project. Running start without init works
too; init is for committing a profile set to the project.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			dir, err := workdir(initDir)
			if err != nil {
				return reportError(err)
			}

			identity, err := project.Identify(dir)
			if err != nil {
				return reportError(issue.WrapWithStage(err, issue.StageConfig, "identify project"))
			}
			paths, err := project.DefaultPaths()
			if err != nil {
				return reportError(issue.WrapWithStage(err, issue.StageConfig, "locate agentbox home"))
			}

			name := initName
			if name == "" {
				name = config.SanitizeName(filepath.Base(dir))
			}
			cfg := config.ProjectConfig{
				Name:     name,
				Profiles: initProfiles,
			}

			storage := identity.StorageName()
			if err := config.SaveProject(paths.ProjectConfigPath(storage), cfg); err != nil {
				return reportError(issue.WrapWithStage(err, issue.StageConfig, "write project config"))
			}
			if err := project.WriteRef(dir, storage); err != nil {
				return reportError(issue.WrapWithStage(err, issue.StageConfig, "write project marker"))
			}

			fmt.Printf("%s project %s initialized\n", SuccessStyle.Render("✓"), CmdStyle.Render(name))
			fmt.Printf("  config: %s\n", paths.ProjectConfigPath(storage))
			return nil
		},
	}
)

func init() {
	initCmd.Flags().StringVarP(&initDir, "dir", "d", "", "project directory (default: current directory)")
	initCmd.Flags().StringVarP(&initName, "name", "n", "", "project name (default: directory name)")
	initCmd.Flags().StringSliceVarP(&initProfiles, "profile", "p", nil, "profile references to bake into the image (repeatable)")
}
