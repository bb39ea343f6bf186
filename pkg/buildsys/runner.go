package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

type runState int

const (
	statePending runState = iota
	stateRunning
	stateDone
	stateFailed
)

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		mu          sync.Mutex
		states      map[string]runState
		done        map[string]chan struct{}
		promised    map[string]bool
		projectRoot string
	}
)

func newRuntimeCtx(projectRoot string) *runtimeCtx {
	return &runtimeCtx{
		states:      make(map[string]runState),
		done:        make(map[string]chan struct{}),
		promised:    make(map[string]bool),
		projectRoot: projectRoot,
	}
}

// notePromised records every literal output path declared in the list. A
// missing input that some target promises to produce is treated as stale
// instead of a missing source during dry runs.
func (r *runtimeCtx) notePromised(targets TargetList) {
	pctx := &parserCtx{
		filepath:    "invalid",
		projectRoot: r.projectRoot,
	}

	for _, target := range targets {
		for _, out := range target.Outputs {
			if strings.ContainsAny(out, "*?[") {
				continue
			}

			r.promised[filepath.ToSlash(normalizePath(pctx, target.Base, out))] = true
		}
	}
}

func withRuntimeCtx(ctx context.Context, rctx *runtimeCtx) context.Context {
	return context.WithValue(ctx, runtimeCtxKey{}, rctx)
}

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

func (r *runtimeCtx) state(name string) runState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.states[name]
}

// begin claims the target for the calling goroutine. If another goroutine is
// already running it, begin returns a channel that is closed once that run
// finished.
func (r *runtimeCtx) begin(name string) (bool, chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.states[name] {
	case statePending:
		r.states[name] = stateRunning
		r.done[name] = make(chan struct{})
		return true, nil
	case stateRunning:
		return false, r.done[name]
	}

	return false, nil
}

func (r *runtimeCtx) finish(name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ok {
		r.states[name] = stateDone
	} else {
		r.states[name] = stateFailed
	}

	if ch, present := r.done[name]; present {
		close(ch)
		delete(r.done, name)
	}
}

func getTargetEnv(target *Target) expand.Environ {
	envVars := os.Environ()

	for name, value := range target.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

var defaultExecHandler = interp.DefaultExecHandler(2)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		// mv, rm and mkdir get a builtin implementation to make sure recipes
		// behave the same on every platform
		switch args[0] {
		case "mv":
			return shellMv(ctx, args[1:])
		case "rm":
			return shellRm(ctx, args[1:])
		case "mkdir":
			return shellMkdir(ctx, args[1:])
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func resolvePatternLists(ctx context.Context, base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	parserCtx := &parserCtx{
		filepath:    "invalid",
		projectRoot: getRuntimeCtx(ctx).projectRoot,
	}

	for _, item := range patterns {
		item = normalizePath(parserCtx, base, item)
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0)
		parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// a pattern that didn't match anything is returned verbatim; skip those
			if !strings.Contains(match, "*") {
				result = append(result, match)
			}
		}
	}
	return result, nil
}

// RunTarget brings the named target up to date, running its dependencies
// first. If dryRun is set, the commands are only printed. force skips the
// staleness check and always runs the recipe.
func RunTarget(ctx context.Context, projectRoot, name string, targets TargetList, dryRun, force bool) error {
	rctx := newRuntimeCtx(projectRoot)
	rctx.notePromised(targets)
	ctx = withRuntimeCtx(ctx, rctx)

	target, found := targets[name]
	if !found {
		return eris.Errorf("target %s not found", name)
	}

	return runTargetInternal(ctx, target, targets, dryRun, force, true, nil)
}

// isUpToDate reports whether every output of the target exists and is at
// least as new as the newest input. Targets without inputs are never up to
// date and always run.
func isUpToDate(ctx context.Context, target *Target, dryRun bool) (bool, error) {
	var newestInput time.Time
	inputList, err := resolvePatternLists(ctx, target.Base, target.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := resolvePatternLists(ctx, target.Base, target.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	stale := false
	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				// during a dry run, artifacts of earlier steps don't exist yet;
				// keep scanning so a genuinely missing source still fails
				if dryRun && getRuntimeCtx(ctx).promised[item] {
					stale = true
					continue
				}
				return false, &MissingSourceError{Target: target.Name, Path: item}
			}
			return false, eris.Wrapf(err, "failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	if stale || newestInput.IsZero() {
		return false, nil
	}

	var newestOutput time.Time
	missing := false
	for _, item := range outputList {
		info, err := os.Stat(item)
		if err != nil {
			if !eris.Is(err, os.ErrNotExist) {
				return false, eris.Wrapf(err, "failed to check output %s", item)
			}
			missing = true
			continue
		}

		if info.ModTime().After(newestOutput) {
			newestOutput = info.ModTime()
		}
	}

	if missing || len(outputList) == 0 {
		return false, nil
	}

	return !newestOutput.Before(newestInput), nil
}

func runTargetInternal(ctx context.Context, target *Target, targets TargetList, dryRun, force, canSkip bool, stack []string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for _, name := range stack {
		if name == target.Name {
			return eris.Errorf("target %s depends on itself", target.Name)
		}
	}

	rctx := getRuntimeCtx(ctx)
	start, wait := rctx.begin(target.Name)
	if !start {
		if wait != nil {
			// another goroutine picked the target up, wait for its result
			select {
			case <-wait:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if rctx.state(target.Name) == stateDone {
			log(ctx).Debug().Msgf("target %s already run", target.Name)
			return nil
		}

		return eris.Errorf("target %s already failed", target.Name)
	}

	success := false
	defer func() {
		rctx.finish(target.Name, success)
	}()

	stack = append(stack, target.Name)
	for _, dep := range target.Deps {
		if rctx.state(dep) == stateDone {
			continue
		}

		depTarget, ok := targets[dep]
		if !ok {
			return eris.Errorf("target %s not found", dep)
		}

		err := runTargetInternal(ctx, depTarget, targets, dryRun, false, true, stack)
		if err != nil {
			return eris.Wrapf(err, "target %s failed due to its dependency %s", target.Name, dep)
		}
	}

	if canSkip && !force {
		upToDate, err := isUpToDate(ctx, target, dryRun)
		if err != nil {
			return err
		}

		if upToDate {
			log(ctx).Info().
				Str("target", target.Name).
				Msg("nothing to do")

			success = true
			return nil
		}
	}

	// the skip checks are done, run the recipe
	runner, err := interp.New(
		interp.Dir(target.Base),
		interp.Env(getTargetEnv(target)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, os.Stdout, os.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(
		syntax.Minify(true),
	)
	strBuffer := strings.Builder{}

	for _, item := range target.Cmds {
		stmts, err := item.ToShellStmts(parser)
		if err != nil {
			return eris.Wrap(err, "failed to parse shell script")
		}
		if stmts != nil {
			for _, stm := range stmts {
				strBuffer.Reset()
				printer.Print(&strBuffer, stm)
				log(ctx).Info().
					Str("target", target.Name).
					Bool("command", true).
					Msg(strBuffer.String())

				if !dryRun {
					err = runner.Run(ctx, stm)
					if err != nil {
						return &ToolInvocationError{
							Target: target.Name,
							Cmd:    strBuffer.String(),
							Err:    err,
						}
					}

					if runner.Exited() {
						success = true
						return nil
					}
				}
			}
		} else {
			subTarget, err := item.ToTarget()
			if err != nil {
				return eris.Wrap(err, "failed to retrieve target ref")
			}

			if subTarget != nil {
				err = runTargetInternal(ctx, subTarget, targets, dryRun, force, true, stack)
				if err != nil {
					return err
				}
			} else {
				return eris.Errorf("unexpected recipe command %+v", item)
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	success = true
	return nil
}
