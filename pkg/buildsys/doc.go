// Package buildsys implements a small build orchestrator: named targets with
// declared inputs, outputs and dependencies, rebuilt only when an input is
// newer than every output. Targets are declared in a Starlark script and
// their recipes run through mvdan.cc/sh which keeps the behavior consistent
// across platforms.
package buildsys
