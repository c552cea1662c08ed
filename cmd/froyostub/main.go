// Command froyostub is the bootstrap prepended to packaged programs. It
// carries no CLI: it verifies the payload appended to its own executable,
// prepares the program's files and runs it, exiting with the program's exit
// code.
//
// Build it once per target platform and pass it to "froyopack build --stub".
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/openfroyo/froyopack/pkg/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := bootstrap.Main(ctx, bootstrap.Options{
		Args:   os.Args[1:],
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: bootstrap.NewLogger(os.Stderr, os.Getenv(bootstrap.LogLevelEnv)),
	})
	stop()
	os.Exit(code)
}
