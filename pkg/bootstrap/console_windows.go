//go:build windows

package bootstrap

import (
	"github.com/rs/zerolog"
	"golang.org/x/sys/windows"
)

var procFreeConsole = windows.NewLazySystemDLL("kernel32.dll").NewProc("FreeConsole")

// detachConsole releases the console window of a program built without one.
func detachConsole(logger zerolog.Logger) {
	if err := procFreeConsole.Find(); err != nil {
		logger.Debug().Err(err).Msg("FreeConsole unavailable")
		return
	}
	if r, _, err := procFreeConsole.Call(); r == 0 {
		logger.Debug().Err(err).Msg("failed to detach console")
	}
}
