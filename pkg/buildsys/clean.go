package buildsys

import (
	"context"
	"os"
	"sort"

	"github.com/rotisserie/eris"
)

// Clean deletes the declared outputs of every target in the list. Sources
// (inputs) are never touched. Missing outputs are not an error, so running
// Clean on a pristine tree succeeds and the operation is idempotent.
func Clean(ctx context.Context, projectRoot string, targets TargetList, dryRun bool) error {
	rctx := newRuntimeCtx(projectRoot)
	ctx = withRuntimeCtx(ctx, rctx)

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		target := targets[name]
		outputs, err := resolvePatternLists(ctx, target.Base, target.Outputs)
		if err != nil {
			return eris.Wrapf(err, "failed to resolve outputs of target %s", name)
		}

		for _, item := range outputs {
			info, err := os.Stat(item)
			if err != nil {
				if eris.Is(err, os.ErrNotExist) {
					continue
				}
				return eris.Wrapf(err, "failed to check %s", item)
			}

			if info.IsDir() {
				// outputs are files; a directory here means the pattern was
				// too broad
				return eris.Errorf("refusing to delete directory %s declared as output of %s", item, name)
			}

			log(ctx).Info().
				Str("target", name).
				Msgf("removing %s", item)

			if dryRun {
				continue
			}

			err = os.Remove(item)
			if err != nil && !eris.Is(err, os.ErrNotExist) {
				return eris.Wrapf(err, "failed to delete %s", item)
			}
		}
	}

	return nil
}
