// Package cmd implements the crossmake CLI.
package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crossmake/pkg/buildsys"
	"crossmake/pkg/pipeline"
)

var rootCmd = &cobra.Command{
	Use:   "crossmake [target]... [name=value]...",
	Short: "Build orchestrator for the freestanding C samples",
	Long: `crossmake brings build targets up to date by invoking the configured cross
toolchain. Targets come from the first build.star script found in this or a
parent directory; without a script, the built-in sample pipeline described by
toolchain.yml is used. Without arguments the default "all" target is built.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		names := make([]string, 0)
		options := make(map[string]string)

		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		keepGoing, err := cmd.Flags().GetBool("keep-going")
		if err != nil {
			return err
		}

		jobs, err := cmd.Flags().GetInt("jobs")
		if err != nil {
			return err
		}

		for _, part := range args {
			pos := strings.Index(part, "=")
			if pos > -1 {
				options[part[:pos]] = part[pos+1:]
			} else {
				names = append(names, part)
			}
		}

		logger := zerolog.New(NewConsoleWriter())
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = buildsys.WithLogger(ctx, &logger)

		proj, err := loadProject(ctx, options)
		if err != nil {
			return err
		}

		if len(names) == 0 {
			if _, ok := proj.targets[pipeline.DefaultTarget]; !ok {
				listTargets(proj.targets)
				return nil
			}

			names = []string{pipeline.DefaultTarget}
		}

		for _, name := range names {
			if _, ok := proj.targets[name]; !ok {
				return fmt.Errorf("target %s not found", name)
			}
		}

		if proj.tc != nil && !dryRun {
			err = proj.tc.CheckTools()
			if err != nil {
				return err
			}
		}

		return buildsys.RunTargets(ctx, proj.root, names, proj.targets, buildsys.RunOptions{
			DryRun:    dryRun,
			Force:     force,
			KeepGoing: keepGoing,
			Jobs:      jobs,
		})
	},
}

func listTargets(targets buildsys.TargetList) {
	fmt.Println("Available targets:")
	maxNameLen := 0
	sortedNames := make([]string, 0, len(targets))
	for _, target := range targets {
		if target.Hidden {
			continue
		}

		if len(target.Name) > maxNameLen {
			maxNameLen = len(target.Name)
		}

		sortedNames = append(sortedNames, target.Name)
	}

	sort.Strings(sortedNames)

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range sortedNames {
		fmt.Printf(lineFmt, name+":", targets[name].Desc)
	}
}

func init() {
	rootCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	rootCmd.Flags().BoolP("force", "f", false, "always run the requested targets even if they are up to date")
	rootCmd.Flags().BoolP("keep-going", "k", false, "continue with targets that don't depend on a failed target")
	rootCmd.Flags().IntP("jobs", "j", 1, "number of recipes to run in parallel")
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
