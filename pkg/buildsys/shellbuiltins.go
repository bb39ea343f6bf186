package buildsys

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/interp"
)

// Cross-platform implementations of the file commands recipes rely on most.
// Having these built in keeps recipes working on systems without coreutils.

func resolveArg(ctx context.Context, arg string) string {
	if filepath.IsAbs(arg) {
		return arg
	}

	return filepath.Join(interp.HandlerCtx(ctx).Dir, arg)
}

func shellMkdir(ctx context.Context, args []string) error {
	makeParents := false
	items := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "-p" {
			makeParents = true
		} else {
			items = append(items, resolveArg(ctx, arg))
		}
	}

	if len(items) == 0 {
		return eris.New("mkdir: missing operand")
	}

	for _, item := range items {
		var err error
		if makeParents {
			err = os.MkdirAll(item, 0770)
		} else {
			err = os.Mkdir(item, 0770)
		}

		if err != nil {
			return eris.Wrapf(err, "mkdir: failed to create %s", item)
		}
	}

	return nil
}

func shellRm(ctx context.Context, args []string) error {
	recursive := false
	force := false
	items := make([]string, 0, len(args))
	for _, arg := range args {
		switch arg {
		case "-r", "-R":
			recursive = true
		case "-f":
			force = true
		case "-rf", "-fr":
			recursive = true
			force = true
		default:
			items = append(items, resolveArg(ctx, arg))
		}
	}

	for _, item := range items {
		info, err := os.Stat(item)
		if err != nil {
			if force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "rm: could not stat %s", item)
		}

		if info.IsDir() && !recursive {
			return eris.Errorf("rm: %s is a directory but -r wasn't passed", item)
		}

		err = os.RemoveAll(item)
		if err != nil {
			return eris.Wrapf(err, "rm: could not delete %s", item)
		}
	}

	return nil
}

func shellMv(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return eris.New("mv: not enough parameters")
	}

	items := make([]string, len(args))
	for idx, arg := range args {
		items[idx] = resolveArg(ctx, arg)
	}

	dest := filepath.Clean(items[len(items)-1])
	items = items[:len(items)-1]

	destInfo, err := os.Stat(dest)
	if err != nil && !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "mv: failed to retrieve info about destination %s", dest)
	}

	destIsDir := err == nil && destInfo.IsDir()
	if len(items) > 1 && !destIsDir {
		return eris.Errorf("mv: can't move multiple items to %s because it is not a directory", dest)
	}

	for _, item := range items {
		itemDest := dest
		if destIsDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		err = os.Rename(item, itemDest)
		if err != nil {
			return eris.Wrapf(err, "mv: failed to move %s to %s", item, itemDest)
		}
	}

	return nil
}
