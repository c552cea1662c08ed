//go:build !windows

package bootstrap

import "github.com/rs/zerolog"

// detachConsole is a no-op: only Windows attaches a console window to a program.
func detachConsole(zerolog.Logger) {}
