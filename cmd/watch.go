package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crossmake/pkg/buildsys"
	"crossmake/pkg/pipeline"
)

var watchCmd = &cobra.Command{
	Use:   "watch [target]...",
	Short: "Rebuild the given targets whenever one of their sources changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := cmd.Flags().GetInt("jobs")
		if err != nil {
			return err
		}

		logger := zerolog.New(NewConsoleWriter())
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ctx = buildsys.WithLogger(ctx, &logger)

		proj, err := loadProject(ctx, map[string]string{})
		if err != nil {
			return err
		}

		names := args
		if len(names) == 0 {
			if _, ok := proj.targets[pipeline.DefaultTarget]; !ok {
				return eris.Errorf("no targets given and no %s target declared", pipeline.DefaultTarget)
			}

			names = []string{pipeline.DefaultTarget}
		}

		inputs, err := buildsys.InputPaths(ctx, proj.root, names, proj.targets)
		if err != nil {
			return err
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return eris.Wrap(err, "failed to create watcher")
		}
		defer watcher.Close()

		// watch the containing directories so editors that replace files
		// instead of rewriting them still trigger a rebuild
		watched := make(map[string]bool)
		for _, item := range inputs {
			dir := filepath.Dir(item)
			if watched[dir] {
				continue
			}

			err = watcher.Add(dir)
			if err != nil {
				return eris.Wrapf(err, "failed to watch %s", dir)
			}
			watched[dir] = true
		}

		relevant := make(map[string]bool, len(inputs))
		for _, item := range inputs {
			relevant[item] = true
		}

		opts := buildsys.RunOptions{Jobs: jobs}
		runBuild := func() {
			err := buildsys.RunTargets(ctx, proj.root, names, proj.targets, opts)
			if err != nil {
				logger.Error().Err(err).Msg("build failed")
			}
		}

		runBuild()
		logger.Info().Msgf("watching %d files", len(inputs))

		var debounce *time.Timer
		trigger := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}

				if !relevant[filepath.Clean(event.Name)] {
					continue
				}

				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				// collapse bursts of events into a single rebuild
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					select {
					case trigger <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Warn().Err(err).Msg("watch error")
			case <-trigger:
				runBuild()
			}
		}
	},
}

func init() {
	watchCmd.Flags().IntP("jobs", "j", 1, "number of recipes to run in parallel")
	rootCmd.AddCommand(watchCmd)
}
