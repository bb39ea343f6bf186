package buildsys

import "fmt"

// MissingSourceError indicates that a declared input of a target does not
// exist. The build of the affected target is aborted immediately.
type MissingSourceError struct {
	Target string
	Path   string
}

func (e *MissingSourceError) Error() string {
	return fmt.Sprintf("target %s: declared source %s does not exist", e.Target, e.Path)
}

// ToolInvocationError indicates that a recipe command (compiler, archiver,
// linker, ...) exited with a non-zero status. The tool's own diagnostics have
// already been forwarded to stderr at this point.
type ToolInvocationError struct {
	Target string
	Cmd    string
	Err    error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("target %s: command %q failed: %v", e.Target, e.Cmd, e.Err)
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}
