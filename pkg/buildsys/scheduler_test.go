package buildsys

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunTargetsParallelBranches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src1.c"), "/* a */\n")
	writeFile(t, filepath.Join(dir, "src2.c"), "/* b */\n")

	all := &Target{
		Name: "all",
		Base: dir,
		Env:  map[string]string{},
		Deps: []string{"a.o", "b.o"},
	}

	targets := TargetList{
		"a.o": fakeCompile(dir, "a.o", "src1.c", "a.o"),
		"b.o": fakeCompile(dir, "b.o", "src2.c", "b.o"),
		"all": all,
	}

	err := RunTargets(context.Background(), dir, []string{"all"}, targets, RunOptions{Jobs: 4})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	for _, artifact := range []string{"a.o", "b.o"} {
		if _, err := os.Stat(filepath.Join(dir, artifact)); err != nil {
			t.Errorf("expected %s to exist: %v", artifact, err)
		}
	}
}

func TestRunTargetsAbortsOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src1.c"), "/* a */\n")

	broken := fakeCompile(dir, "broken.o", "src1.c", "broken.o")
	broken.Cmds = []TargetCmd{
		CmdScript{TargetName: "broken.o", Content: "exit 1", Index: 0},
	}

	app := &Target{
		Name:    "app",
		Base:    dir,
		Env:     map[string]string{},
		Deps:    []string{"broken.o"},
		Outputs: []string{"app"},
		Cmds: []TargetCmd{
			CmdScript{TargetName: "app", Content: "echo data > app", Index: 0},
		},
	}

	targets := TargetList{"broken.o": broken, "app": app}
	err := RunTargets(context.Background(), dir, []string{"app"}, targets, RunOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}

	var toolErr *ToolInvocationError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected a ToolInvocationError, got %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "app")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("app must not be built after its dependency failed, stat returned %v", err)
	}
}

func TestRunTargetsKeepGoing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src1.c"), "/* a */\n")
	writeFile(t, filepath.Join(dir, "src2.c"), "/* b */\n")

	broken := fakeCompile(dir, "broken.o", "src1.c", "broken.o")
	broken.Cmds = []TargetCmd{
		CmdScript{TargetName: "broken.o", Content: "exit 1", Index: 0},
	}

	dependent := &Target{
		Name:    "dependent",
		Base:    dir,
		Env:     map[string]string{},
		Deps:    []string{"broken.o"},
		Outputs: []string{"dependent"},
		Cmds: []TargetCmd{
			CmdScript{TargetName: "dependent", Content: "echo data > dependent", Index: 0},
		},
	}

	targets := TargetList{
		"broken.o":  broken,
		"b.o":       fakeCompile(dir, "b.o", "src2.c", "b.o"),
		"dependent": dependent,
	}

	err := RunTargets(context.Background(), dir, []string{"broken.o", "b.o", "dependent"}, targets, RunOptions{KeepGoing: true})
	if err == nil {
		t.Fatal("expected an error")
	}

	if _, statErr := os.Stat(filepath.Join(dir, "b.o")); statErr != nil {
		t.Errorf("independent sibling should still be built: %v", statErr)
	}

	if _, statErr := os.Stat(filepath.Join(dir, "dependent")); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("dependent of the failed target must be skipped, stat returned %v", statErr)
	}
}

func TestRunTargetsSharedHelper(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src1.c"), "/* a */\n")
	writeFile(t, filepath.Join(dir, "src2.c"), "/* b */\n")

	// both branches reference the same hidden helper inline; whichever
	// goroutine gets there second has to wait, not fail
	helper := &Target{
		Name:   "helper",
		Base:   dir,
		Env:    map[string]string{},
		Hidden: true,
		Cmds: []TargetCmd{
			CmdScript{TargetName: "helper", Content: "i=0; while [ $i -lt 500 ]; do i=$((i+1)); done", Index: 0},
			CmdScript{TargetName: "helper", Content: "echo run >> helper.runs", Index: 1},
		},
	}

	a := fakeCompile(dir, "a.o", "src1.c", "a.o")
	a.Cmds = append([]TargetCmd{CmdTargetRef{Target: helper}}, a.Cmds...)
	b := fakeCompile(dir, "b.o", "src2.c", "b.o")
	b.Cmds = append([]TargetCmd{CmdTargetRef{Target: helper}}, b.Cmds...)

	targets := TargetList{"a.o": a, "b.o": b}
	err := RunTargets(context.Background(), dir, []string{"a.o", "b.o"}, targets, RunOptions{Jobs: 2})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if got := countLines(t, filepath.Join(dir, "helper.runs")); got != 1 {
		t.Errorf("helper must run exactly once, got %d runs", got)
	}
}

func TestRunTargetsDetectsCycles(t *testing.T) {
	dir := t.TempDir()

	a := &Target{Name: "a", Base: dir, Env: map[string]string{}, Deps: []string{"b"}}
	b := &Target{Name: "b", Base: dir, Env: map[string]string{}, Deps: []string{"a"}}

	targets := TargetList{"a": a, "b": b}
	err := RunTargets(context.Background(), dir, []string{"a"}, targets, RunOptions{})
	if err == nil {
		t.Fatal("expected a cycle error")
	}

	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("expected the error to mention the cycle, got %v", err)
	}
}

func TestRunTargetsUnknownName(t *testing.T) {
	dir := t.TempDir()

	err := RunTargets(context.Background(), dir, []string{"nope"}, TargetList{}, RunOptions{})
	if err == nil {
		t.Fatal("expected an error for the unknown target")
	}
}

func TestInputPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src1.c"), "/* a */\n")
	writeFile(t, filepath.Join(dir, "src2.c"), "/* b */\n")

	all := &Target{
		Name: "all",
		Base: dir,
		Env:  map[string]string{},
		Deps: []string{"a.o", "b.o"},
	}

	targets := TargetList{
		"a.o": fakeCompile(dir, "a.o", "src1.c", "a.o"),
		"b.o": fakeCompile(dir, "b.o", "src2.c", "b.o"),
		"all": all,
	}

	inputs, err := InputPaths(context.Background(), dir, []string{"all"}, targets)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if len(inputs) != 2 {
		t.Fatalf("expected 2 inputs, got %v", inputs)
	}

	for _, item := range inputs {
		base := filepath.Base(item)
		if base != "src1.c" && base != "src2.c" {
			t.Errorf("unexpected input %s", item)
		}
	}
}
