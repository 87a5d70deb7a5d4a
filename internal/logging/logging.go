// Package logging configures the zerolog global logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatgogo/matchclient/internal/config"
)

// Init sets the global level and output. Console output is human readable
// on stderr, otherwise JSON lines are written to stderr.
func Init(cfg config.Log, app string) {
	InitWriter(cfg, app, os.Stderr)
}

// InitWriter is Init with an explicit destination.
func InitWriter(cfg config.Log, app string, out io.Writer) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	w := out
	if cfg.Console {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(w).
		With().
		Timestamp().
		Str("app", app).
		Logger()
}

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
