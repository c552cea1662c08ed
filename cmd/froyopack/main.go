package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/froyopack/cmd/froyopack/commands"
	"github.com/openfroyo/froyopack/pkg/archive"
	"github.com/openfroyo/froyopack/pkg/bootstrap"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A froyopack binary used as a stub carries a payload: it is the
	// packaged program, not the CLI.
	if exe, err := os.Executable(); err == nil && archive.HasPayload(exe) {
		code := bootstrap.Main(ctx, bootstrap.Options{
			Executable: exe,
			Args:       os.Args[1:],
			Stdin:      os.Stdin,
			Stdout:     os.Stdout,
			Stderr:     os.Stderr,
			Logger:     bootstrap.NewLogger(os.Stderr, os.Getenv(bootstrap.LogLevelEnv)),
		})
		stop()
		os.Exit(code)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		code := commands.ExitCode(err)
		if _, ok := err.(*commands.ExitError); !ok {
			log.Error().Err(err).Msg("command failed")
		}
		stop()
		os.Exit(code)
	}
}
