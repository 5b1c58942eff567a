// File: internal/logging/logging.go
// Structured logging setup for hioload-core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// All packages obtain their logger here so that level and output
// format are decided in exactly one place. Human-readable console
// output is used when stderr is a terminal, JSON otherwise; both can
// be forced through Setup.

package logging

import (
	"os"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	root = defaultLogger()
)

func defaultLogger() zerolog.Logger {
	return newLogger(isatty.IsTerminal(os.Stderr.Fd()))
}

func newLogger(console bool) zerolog.Logger {
	if console {
		w := zerolog.ConsoleWriter{
			Out:        colorable.NewColorableStderr(),
			TimeFormat: time.RFC3339,
		}
		return zerolog.New(w).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Setup reconfigures the root logger. level accepts the zerolog level
// names ("debug", "info", "warn", ...); unknown names fail silently to
// info. Loggers handed out before Setup keep their old settings, so
// call it before building the runtime.
func Setup(level string, console bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	mu.Lock()
	root = newLogger(console)
	mu.Unlock()
}

// New returns a sublogger tagged with the given component name.
func New(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", component).Logger()
}

// Nop returns a disabled logger, useful in tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
