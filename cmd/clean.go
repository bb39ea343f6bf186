package cmd

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crossmake/pkg/buildsys"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove all generated objects, archives and executables",
	Long: `Deletes the declared outputs of every target. Sources are never touched and
missing outputs are ignored, so clean always succeeds on a pristine tree.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		logger := zerolog.New(NewConsoleWriter())
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = buildsys.WithLogger(ctx, &logger)

		proj, err := loadProject(ctx, map[string]string{})
		if err != nil {
			return err
		}

		return buildsys.Clean(ctx, proj.root, proj.targets, dryRun)
	},
}

func init() {
	cleanCmd.Flags().BoolP("dry", "n", false, "only print which files would be removed")
	rootCmd.AddCommand(cleanCmd)
}
