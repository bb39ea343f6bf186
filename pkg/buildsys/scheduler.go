package buildsys

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// RunOptions controls how RunTargets executes the graph.
type RunOptions struct {
	// DryRun only prints the commands that would run.
	DryRun bool
	// Force runs the recipes of the requested targets even if they are up to
	// date. Dependencies still get the normal staleness check.
	Force bool
	// KeepGoing attempts targets that don't depend on a failed target instead
	// of aborting the whole run.
	KeepGoing bool
	// Jobs limits how many recipes run at the same time. Values below 1 mean
	// sequential execution.
	Jobs int
}

// RunTargets brings the named targets and their transitive dependencies up to
// date. Independent branches of the graph run concurrently up to the jobs
// limit; a target never starts before all of its dependencies finished.
func RunTargets(ctx context.Context, projectRoot string, names []string, targets TargetList, opts RunOptions) error {
	closure, err := dependencyClosure(names, targets)
	if err != nil {
		return err
	}

	if opts.Jobs < 1 {
		opts.Jobs = 1
	}

	requested := make(map[string]bool, len(names))
	for _, name := range names {
		requested[name] = true
	}

	rctx := newRuntimeCtx(projectRoot)
	rctx.notePromised(targets)
	ctx = withRuntimeCtx(ctx, rctx)

	var mu sync.Mutex
	finished := make(map[string]bool, len(closure))
	failures := make(map[string]error)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ready := readyTargets(closure, targets, finished, failures)
		if len(ready) == 0 {
			break
		}

		grp, grpCtx := errgroup.WithContext(ctx)
		grp.SetLimit(opts.Jobs)

		for _, name := range ready {
			name := name
			grp.Go(func() error {
				err := runTargetInternal(grpCtx, targets[name], targets, opts.DryRun, opts.Force && requested[name], true, nil)

				mu.Lock()
				defer mu.Unlock()
				finished[name] = true
				if err != nil {
					failures[name] = err
					if !opts.KeepGoing {
						return err
					}
				}
				return nil
			})
		}

		if err := grp.Wait(); err != nil {
			return err
		}
	}

	if len(failures) == 0 {
		return nil
	}

	if len(failures) == 1 {
		for _, err := range failures {
			return err
		}
	}

	failedNames := make([]string, 0, len(failures))
	for name := range failures {
		failedNames = append(failedNames, name)
	}
	sort.Strings(failedNames)

	return eris.Errorf("%d targets failed: %s", len(failures), strings.Join(failedNames, ", "))
}

// readyTargets returns the names that can run now: not finished yet and all
// dependencies finished successfully. Targets below a failed dependency are
// marked as finished so the run can drain.
func readyTargets(closure []string, targets TargetList, finished map[string]bool, failures map[string]error) []string {
	ready := make([]string, 0)

	for _, name := range closure {
		if finished[name] {
			continue
		}

		blocked := false
		skip := false
		for _, dep := range targets[name].Deps {
			if _, failed := failures[dep]; failed {
				skip = true
				break
			}
			if !finished[dep] {
				blocked = true
				break
			}
		}

		if skip {
			finished[name] = true
			failures[name] = eris.Errorf("target %s skipped because a dependency failed", name)
			continue
		}

		if !blocked {
			ready = append(ready, name)
		}
	}

	sort.Strings(ready)
	return ready
}

// InputPaths resolves the declared inputs of the named targets and their
// transitive dependencies to concrete files. Used by the watch mode to know
// which paths should trigger a rebuild.
func InputPaths(ctx context.Context, projectRoot string, names []string, targets TargetList) ([]string, error) {
	closure, err := dependencyClosure(names, targets)
	if err != nil {
		return nil, err
	}

	ctx = withRuntimeCtx(ctx, newRuntimeCtx(projectRoot))

	seen := make(map[string]bool)
	result := make([]string, 0)
	for _, name := range closure {
		target := targets[name]
		inputs, err := resolvePatternLists(ctx, target.Base, target.Inputs)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve inputs of target %s", name)
		}

		for _, item := range inputs {
			if !seen[item] {
				seen[item] = true
				result = append(result, item)
			}
		}
	}

	sort.Strings(result)
	return result, nil
}

// dependencyClosure expands the requested names to every target that has to
// be considered, rejecting unknown names and dependency cycles.
func dependencyClosure(names []string, targets TargetList) ([]string, error) {
	const (
		colorVisiting = 1
		colorDone     = 2
	)

	colors := make(map[string]int)
	closure := make([]string, 0, len(names))

	var visit func(name string, stack []string) error
	visit = func(name string, stack []string) error {
		switch colors[name] {
		case colorDone:
			return nil
		case colorVisiting:
			return eris.Errorf("dependency cycle: %s -> %s", strings.Join(stack, " -> "), name)
		}

		target, ok := targets[name]
		if !ok {
			return eris.Errorf("target %s not found", name)
		}

		colors[name] = colorVisiting
		for _, dep := range target.Deps {
			err := visit(dep, append(stack, name))
			if err != nil {
				return err
			}
		}

		colors[name] = colorDone
		closure = append(closure, name)
		return nil
	}

	for _, name := range names {
		err := visit(name, nil)
		if err != nil {
			return nil, err
		}
	}

	return closure, nil
}
