package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crossmake/pkg/buildsys"
	"crossmake/pkg/toolchain"
)

func testConfig() *toolchain.Config {
	return &toolchain.Config{
		CC:      "/opt/cross/bin/i686-elf-gcc",
		AR:      "/opt/cross/bin/i686-elf-ar",
		Triple:  "i686-elf",
		Include: "libc/include",
		CFlags:  append([]string(nil), toolchain.DefaultCFlags...),
	}
}

func scriptOf(t *testing.T, target *buildsys.Target) string {
	t.Helper()

	lines := make([]string, 0, len(target.Cmds))
	for _, cmd := range target.Cmds {
		script, ok := cmd.(buildsys.CmdScript)
		if !ok {
			t.Fatalf("target %s: unexpected recipe entry %+v", target.Name, cmd)
		}
		lines = append(lines, script.Content)
	}

	return strings.Join(lines, "\n")
}

func TestTargetsGraphShape(t *testing.T) {
	targets := Targets(testConfig(), t.TempDir(), DefaultLayout())

	expected := []string{"syscalls.o", "libc.o", "libc.a", "entry.o", "hello", "hello_dynamic", "all"}
	if len(targets) != len(expected) {
		t.Fatalf("expected %d targets, got %d", len(expected), len(targets))
	}

	for _, name := range expected {
		if _, ok := targets[name]; !ok {
			t.Errorf("target %s missing", name)
		}
	}

	libc := targets["libc.a"]
	if len(libc.Deps) != 2 || libc.Deps[0] != "syscalls.o" || libc.Deps[1] != "libc.o" {
		t.Errorf("unexpected libc.a deps: %v", libc.Deps)
	}

	for _, name := range []string{"hello", "hello_dynamic"} {
		deps := targets[name].Deps
		if len(deps) != 2 || deps[0] != "entry.o" || deps[1] != "libc.a" {
			t.Errorf("unexpected %s deps: %v", name, deps)
		}
	}

	all := targets["all"]
	if len(all.Deps) != 2 || all.Deps[0] != "hello" || all.Deps[1] != "hello_dynamic" {
		t.Errorf("unexpected all deps: %v", all.Deps)
	}
}

func TestTargetsRecipes(t *testing.T) {
	cfg := testConfig()
	targets := Targets(cfg, t.TempDir(), DefaultLayout())

	compile := scriptOf(t, targets["syscalls.o"])
	if !strings.Contains(compile, cfg.CC) {
		t.Errorf("compile recipe doesn't reference the compiler: %s", compile)
	}
	if !strings.Contains(compile, "-ffreestanding") {
		t.Errorf("compile recipe misses the freestanding flags: %s", compile)
	}
	if !strings.Contains(compile, "-I libc/include") {
		t.Errorf("compile recipe misses the include path: %s", compile)
	}
	if !strings.Contains(compile, "--target=i686-elf") {
		t.Errorf("compile recipe misses the target triple: %s", compile)
	}

	archive := scriptOf(t, targets["libc.a"])
	if !strings.Contains(archive, cfg.AR+" rcs") {
		t.Errorf("archive recipe doesn't invoke the archiver: %s", archive)
	}

	static := scriptOf(t, targets["hello"])
	if !strings.Contains(static, "-static") {
		t.Errorf("hello must be linked statically: %s", static)
	}
	if !strings.Contains(static, "-Wl,-Ttext=0x0") {
		t.Errorf("hello must be linked at text base zero: %s", static)
	}
	if !strings.Contains(static, "--target=i686-elf") {
		t.Errorf("link recipe misses the target triple: %s", static)
	}

	dynamic := scriptOf(t, targets["hello_dynamic"])
	if strings.Contains(dynamic, "-static") {
		t.Errorf("hello_dynamic must not be linked statically: %s", dynamic)
	}
}

func TestTargetsDryRun(t *testing.T) {
	root := t.TempDir()
	layout := DefaultLayout()

	for _, src := range []string{"syscalls.c", "libc.c", "entry.c"} {
		writeSource(t, filepath.Join(root, layout.LibcDir, src))
	}
	for _, src := range []string{"hello.c", "hello_dynamic.c"} {
		writeSource(t, filepath.Join(root, layout.SrcDir, src))
	}

	targets := Targets(testConfig(), root, layout)
	err := buildsys.RunTargets(context.Background(), root, []string{DefaultTarget}, targets, buildsys.RunOptions{DryRun: true, Jobs: 2})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, layout.ObjDir)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("dry run must not create the object directory, stat returned %v", err)
	}
}

func TestTargetsMissingSource(t *testing.T) {
	root := t.TempDir()
	layout := DefaultLayout()

	// everything except hello.c is present
	for _, src := range []string{"syscalls.c", "libc.c", "entry.c"} {
		writeSource(t, filepath.Join(root, layout.LibcDir, src))
	}
	writeSource(t, filepath.Join(root, layout.SrcDir, "hello_dynamic.c"))

	targets := Targets(testConfig(), root, layout)
	err := buildsys.RunTargets(context.Background(), root, []string{"hello"}, targets, buildsys.RunOptions{DryRun: true})
	if err == nil {
		t.Fatal("expected an error for the missing sample source")
	}

	var missingErr *buildsys.MissingSourceError
	if !errors.As(err, &missingErr) {
		t.Fatalf("expected a MissingSourceError, got %v", err)
	}
}

func TestCleanEnumeratesArtifacts(t *testing.T) {
	root := t.TempDir()
	layout := DefaultLayout()
	targets := Targets(testConfig(), root, layout)

	artifacts := []string{
		filepath.Join(layout.ObjDir, "syscalls.o"),
		filepath.Join(layout.ObjDir, "libc.o"),
		filepath.Join(layout.ObjDir, "libc.a"),
		filepath.Join(layout.ObjDir, "entry.o"),
		filepath.Join(layout.BinDir, "hello"),
		filepath.Join(layout.BinDir, "hello_dynamic"),
	}

	for _, artifact := range artifacts {
		path := filepath.Join(root, artifact)
		err := os.MkdirAll(filepath.Dir(path), 0770)
		if err != nil {
			t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
		}
		err = os.WriteFile(path, []byte("data\n"), 0660)
		if err != nil {
			t.Fatalf("failed to create %s: %v", path, err)
		}
	}

	err := buildsys.Clean(context.Background(), root, targets, false)
	if err != nil {
		t.Fatalf("clean failed: %v", err)
	}

	for _, artifact := range artifacts {
		if _, err := os.Stat(filepath.Join(root, artifact)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected %s to be removed, stat returned %v", artifact, err)
		}
	}
}

func writeSource(t *testing.T, path string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0770)
	if err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}

	err = os.WriteFile(path, []byte("/* sample */\n"), 0660)
	if err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
