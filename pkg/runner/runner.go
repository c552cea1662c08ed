// Package runner executes a packaged or source program against a runtime
// resource context.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyopack/pkg/analyzers"
	"github.com/openfroyo/froyopack/pkg/locator"
)

// Program is one invocation of a program.
type Program struct {
	// Entry is the logical path of the entry file.
	Entry string

	// Args are passed to the program.
	Args []string

	// Locator serves the program files and bundled resources.
	Locator *locator.Context

	// Interpreter runs external programs.
	Interpreter []string

	// SearchPaths are extra import roots (source mode only).
	SearchPaths []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (p *Program) stdio() (io.Reader, io.Writer, io.Writer) {
	in, out, errOut := p.Stdin, p.Stdout, p.Stderr
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return in, out, errOut
}

// Runner runs a program and returns its exit code. The error is reserved for
// failures to start the program; a program that fails returns a non-zero
// code and a nil error.
type Runner interface {
	Kind() string
	Run(ctx context.Context, prog *Program) (int, error)
}

// New returns the runner for a program kind.
func New(kind string, logger zerolog.Logger) (Runner, error) {
	switch kind {
	case analyzers.KindStarlark:
		return NewStarlarkRunner(logger), nil
	case analyzers.KindPython:
		return NewExecRunner(logger), nil
	default:
		return nil, fmt.Errorf("no runner for program kind %q", kind)
	}
}
