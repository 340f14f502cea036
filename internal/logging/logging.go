// Package logging builds the zerolog.Logger threaded through every
// component as a constructor field, never as a global.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls how New builds a logger.
type Options struct {
	// Level is one of zerolog's level names (debug, info, warn, error). Empty
	// defaults to "info".
	Level string
	// Pretty selects the human-readable console writer instead of JSON. Use
	// for local/dev runs; production should log JSON.
	Pretty bool
	Output io.Writer
}

// New builds a logger per Options. Unknown levels fall back to info rather
// than erroring, since a bad log_level shouldn't block startup.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Stage returns a child logger annotated with the ingestion/search stage
// name, the common grouping key used across log lines in this module.
func Stage(l zerolog.Logger, stage string) zerolog.Logger {
	return l.With().Str("stage", stage).Logger()
}
