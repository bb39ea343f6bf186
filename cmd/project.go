package cmd

import (
	"context"
	"os"
	"path/filepath"
	"reflect"

	"github.com/rotisserie/eris"

	"crossmake/pkg/buildsys"
	"crossmake/pkg/pipeline"
	"crossmake/pkg/toolchain"
)

const (
	scriptName = "build.star"
	cacheName  = ".crossmake.cache"
)

// project is the resolved build setup for the current working directory:
// either a build.star script or, when none exists, the built-in sample
// pipeline configured through toolchain.yml.
type project struct {
	root    string
	targets buildsys.TargetList
	tc      *toolchain.Config
}

// findUp walks from the working directory towards the filesystem root and
// returns the first directory containing one of the given files, plus the
// name that matched.
func findUp(names ...string) (string, string, error) {
	path, err := os.Getwd()
	if err != nil {
		return "", "", eris.Wrap(err, "failed to retrieve the current working directory")
	}

	for {
		for _, name := range names {
			_, err := os.Stat(filepath.Join(path, name))
			if err == nil {
				return path, name, nil
			}
			if !eris.Is(err, os.ErrNotExist) {
				return "", "", eris.Wrapf(err, "failed to check %s", filepath.Join(path, name))
			}
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", "", os.ErrNotExist
		}

		path = parent
	}
}

// loadProject locates and parses the build setup. Script parse results are
// cached next to the script and reused as long as the script itself and the
// passed options are unchanged.
func loadProject(ctx context.Context, options map[string]string) (*project, error) {
	root, match, err := findUp(scriptName, toolchain.DefaultFile)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil, eris.Errorf("no %s or %s found in this directory or any parent", scriptName, toolchain.DefaultFile)
		}
		return nil, err
	}

	if match == toolchain.DefaultFile {
		tc, err := toolchain.Load(filepath.Join(root, toolchain.DefaultFile))
		if err != nil {
			return nil, err
		}

		return &project{
			root:    root,
			targets: pipeline.Targets(tc, root, pipeline.DefaultLayout()),
			tc:      tc,
		}, nil
	}

	scriptPath := filepath.Join(root, scriptName)
	cachePath := filepath.Join(root, cacheName)

	cachedOptions, targets, err := buildsys.ReadCache(cachePath, scriptPath)
	if err == nil && reflect.DeepEqual(cachedOptions, options) {
		return &project{root: root, targets: targets}, nil
	}

	targets, _, err = buildsys.RunScript(ctx, scriptPath, root, options, true)
	if err != nil {
		return nil, err
	}

	err = buildsys.WriteCache(cachePath, scriptPath, options, targets)
	if err != nil {
		// a broken cache only costs a re-parse on the next run
		os.Remove(cachePath)
	}

	return &project{root: root, targets: targets}, nil
}
