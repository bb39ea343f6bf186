// Package pipeline declares the built-in target graph for the freestanding C
// sample programs: the custom libc objects are archived into libc.a and the
// hello samples are linked against it together with the entry object.
package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"crossmake/pkg/buildsys"
	"crossmake/pkg/toolchain"
)

// Layout describes where the sample tree keeps its sources and where the
// generated artifacts go. All paths are relative to the project root.
type Layout struct {
	// LibcDir holds syscalls.c, libc.c, entry.c and the include/ directory.
	LibcDir string
	// SrcDir holds the sample programs (hello.c, hello_dynamic.c).
	SrcDir string
	// ObjDir receives object files and the static archive.
	ObjDir string
	// BinDir receives the linked executables.
	BinDir string
}

// DefaultLayout mirrors the layout of the original sample tree.
func DefaultLayout() Layout {
	return Layout{
		LibcDir: "libc",
		SrcDir:  "samples",
		ObjDir:  "obj",
		BinDir:  filepath.Join("samples", "bin"),
	}
}

// DefaultTarget is the target built when the CLI is invoked without
// arguments.
const DefaultTarget = "all"

// Targets constructs the sample build graph for the given toolchain. The
// returned list contains one target per artifact plus the aggregate "all"
// target:
//
//	syscalls.o  libc.o  ->  libc.a
//	entry.o
//	entry.o + hello.c         + libc.a  ->  hello          (static)
//	entry.o + hello_dynamic.c + libc.a  ->  hello_dynamic
func Targets(tc *toolchain.Config, root string, layout Layout) buildsys.TargetList {
	join := filepath.Join
	libcSrc := func(name string) string { return join(layout.LibcDir, name) }
	obj := func(name string) string { return join(layout.ObjDir, name) }
	bin := func(name string) string { return join(layout.BinDir, name) }

	headers := join(layout.LibcDir, "include", "*.h")

	targets := buildsys.TargetList{}
	add := func(t *buildsys.Target) {
		t.Base = root
		t.Env = map[string]string{}
		targets[t.Name] = t
	}

	add(&buildsys.Target{
		Name:    "syscalls.o",
		Desc:    "compile the syscall stubs",
		Inputs:  []string{libcSrc("syscalls.c"), headers},
		Outputs: []string{obj("syscalls.o")},
		Cmds: recipe("syscalls.o",
			mkdirCmd(layout.ObjDir),
			compileCmd(tc, libcSrc("syscalls.c"), obj("syscalls.o")),
		),
	})

	add(&buildsys.Target{
		Name:    "libc.o",
		Desc:    "compile the libc",
		Inputs:  []string{libcSrc("libc.c"), headers},
		Outputs: []string{obj("libc.o")},
		Cmds: recipe("libc.o",
			mkdirCmd(layout.ObjDir),
			compileCmd(tc, libcSrc("libc.c"), obj("libc.o")),
		),
	})

	add(&buildsys.Target{
		Name:    "libc.a",
		Desc:    "bundle the libc objects into a static archive",
		Deps:    []string{"syscalls.o", "libc.o"},
		Inputs:  []string{obj("syscalls.o"), obj("libc.o")},
		Outputs: []string{obj("libc.a")},
		Cmds: recipe("libc.a",
			// ar appends to an existing archive, so start from scratch
			fmt.Sprintf("rm -f %s", quoteArg(obj("libc.a"))),
			archiveCmd(tc, obj("libc.a"), obj("syscalls.o"), obj("libc.o")),
		),
	})

	add(&buildsys.Target{
		Name:    "entry.o",
		Desc:    "compile the program entry point",
		Inputs:  []string{libcSrc("entry.c"), headers},
		Outputs: []string{obj("entry.o")},
		Cmds: recipe("entry.o",
			mkdirCmd(layout.ObjDir),
			compileCmd(tc, libcSrc("entry.c"), obj("entry.o")),
		),
	})

	add(&buildsys.Target{
		Name:    "hello",
		Desc:    "link the static hello sample",
		Deps:    []string{"entry.o", "libc.a"},
		Inputs:  []string{obj("entry.o"), join(layout.SrcDir, "hello.c"), obj("libc.a"), headers},
		Outputs: []string{bin("hello")},
		Cmds: recipe("hello",
			mkdirCmd(layout.BinDir),
			linkCmd(tc, bin("hello"), true, obj("entry.o"), join(layout.SrcDir, "hello.c"), obj("libc.a")),
		),
	})

	add(&buildsys.Target{
		Name:    "hello_dynamic",
		Desc:    "link the dynamically linked hello sample",
		Deps:    []string{"entry.o", "libc.a"},
		Inputs:  []string{obj("entry.o"), obj("libc.a"), join(layout.SrcDir, "hello_dynamic.c"), headers},
		Outputs: []string{bin("hello_dynamic")},
		Cmds: recipe("hello_dynamic",
			mkdirCmd(layout.BinDir),
			linkCmd(tc, bin("hello_dynamic"), false, obj("entry.o"), obj("libc.a"), join(layout.SrcDir, "hello_dynamic.c")),
		),
	})

	add(&buildsys.Target{
		Name: DefaultTarget,
		Desc: "build every sample",
		Deps: []string{"hello", "hello_dynamic"},
	})

	return targets
}

func recipe(targetName string, lines ...string) []buildsys.TargetCmd {
	cmds := make([]buildsys.TargetCmd, len(lines))
	for idx, line := range lines {
		cmds[idx] = buildsys.CmdScript{
			TargetName: targetName,
			Content:    line,
			Index:      idx,
		}
	}

	return cmds
}

func mkdirCmd(dir string) string {
	return fmt.Sprintf("mkdir -p %s", quoteArg(dir))
}

func compileCmd(tc *toolchain.Config, src, obj string) string {
	args := []string{quoteArg(tc.CC)}
	if tc.Triple != "" {
		args = append(args, quoteArg("--target="+tc.Triple))
	}
	args = append(args, quoteArgs(tc.CFlags)...)
	if tc.Include != "" {
		args = append(args, "-I", quoteArg(tc.Include))
	}
	args = append(args, "-c", quoteArg(src), "-o", quoteArg(obj))

	return strings.Join(args, " ")
}

func archiveCmd(tc *toolchain.Config, archive string, members ...string) string {
	args := []string{quoteArg(tc.AR), "rcs", quoteArg(archive)}
	args = append(args, quoteArgs(members)...)

	return strings.Join(args, " ")
}

func linkCmd(tc *toolchain.Config, out string, static bool, inputs ...string) string {
	args := []string{quoteArg(tc.CC)}
	if tc.Triple != "" {
		args = append(args, quoteArg("--target="+tc.Triple))
	}
	args = append(args, quoteArgs(tc.CFlags)...)
	if tc.Include != "" {
		args = append(args, "-I", quoteArg(tc.Include))
	}
	if static {
		args = append(args, "-static")
	}
	args = append(args, fmt.Sprintf("-Wl,-Ttext=0x%x", tc.TextBase))
	args = append(args, quoteArgs(tc.LDFlags)...)
	args = append(args, "-o", quoteArg(out))
	args = append(args, quoteArgs(inputs)...)

	return strings.Join(args, " ")
}

func quoteArgs(args []string) []string {
	result := make([]string, len(args))
	for idx, arg := range args {
		result[idx] = quoteArg(arg)
	}

	return result
}

func quoteArg(arg string) string {
	arg = filepath.ToSlash(arg)
	if strings.ContainsAny(arg, " $'\"") {
		return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}

	return arg
}
