package buildsys

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"
	"mvdan.cc/sh/v3/syntax"
)

// CmdScript is a recipe line that holds a shell fragment.
type CmdScript struct {
	TargetName string
	Content    string
	Index      int
}

func (s CmdScript) ToTarget() (*Target, error) {
	return nil, nil
}

func (s CmdScript) ToShellStmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	reader := strings.NewReader(s.Content)
	result, err := parser.Parse(reader, fmt.Sprintf("%s:%d", s.TargetName, s.Index))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", s.Content)
	}

	return result.Stmts, nil
}

// CmdTargetRef is a recipe line that runs another target inline.
type CmdTargetRef struct {
	Target *Target
}

func (t CmdTargetRef) ToTarget() (*Target, error) {
	return t.Target, nil
}

func (t CmdTargetRef) ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error) {
	return nil, nil
}

// TargetCmd is one line of a target's recipe; either a shell fragment or a
// reference to another target.
type TargetCmd interface {
	ToTarget() (*Target, error)
	ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error)
}

// Target contains the processed values passed to target() by the build script.
// Inputs and Outputs are glob patterns resolved relative to Base; a target is
// considered up to date when every output exists and the newest output is at
// least as new as the newest input.
type Target struct {
	Env     map[string]string
	Name    string
	Desc    string
	Base    string
	Inputs  []string
	Deps    []string
	Outputs []string
	Cmds    []TargetCmd
	Hidden  bool
}

// TargetList maps names to each declared target
type TargetList map[string]*Target

type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

// Implement starlark.Value for *Target

// String returns a string representation of the target
func (t *Target) String() string {
	return fmt.Sprintf("<Target %s: %s>", t.Name, t.Desc)
}

// Type always returns "target" to indicate this type
func (t *Target) Type() string {
	return "target"
}

// Freeze doesn't do anything since targets are immutable anyway
func (t *Target) Freeze() {}

// Truth always returns true since a target can't be nil or None
func (t *Target) Truth() starlark.Bool {
	return starlark.True
}

// Hash always returns an error since target is not a hashable type
func (t *Target) Hash() (uint32, error) {
	return 0, eris.New("target is not a hashable type")
}

// StarlarkPath is a filesystem path value inside build scripts. It behaves
// like a string but is normalized relative to the declaring script.
type StarlarkPath string

func (p StarlarkPath) String() string {
	return starlark.String(p).String()
}

func (p StarlarkPath) Type() string {
	return "path"
}

func (p StarlarkPath) Freeze() {}

func (p StarlarkPath) Truth() starlark.Bool {
	return p != ""
}

func (p StarlarkPath) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

func (p StarlarkPath) CompareSameType(op starsyntax.Token, y_ starlark.Value, depth int) (bool, error) {
	y := y_.(StarlarkPath)

	switch op {
	case starsyntax.EQL:
		return p == y, nil
	case starsyntax.NEQ:
		return p != y, nil
	case starsyntax.LT:
		return p < y, nil
	case starsyntax.LE:
		return p <= y, nil
	case starsyntax.GT:
		return p > y, nil
	case starsyntax.GE:
		return p >= y, nil
	}

	return false, eris.Errorf("unknown operator %v", op)
}

func (p StarlarkPath) Index(i int) starlark.Value {
	return starlark.String(p[i])
}

func (p StarlarkPath) Len() int {
	return len(p)
}

func (p StarlarkPath) Slice(start, end, step int) starlark.Value {
	return starlark.String(p).Slice(start, end, step)
}
