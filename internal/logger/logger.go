package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the service logger: human readable in development, JSON
// everywhere else.
func New(env, level string) zerolog.Logger {
	return newWithWriter(env, level, os.Stdout)
}

// Bootstrap is the logger used before configuration is loaded.
func Bootstrap() zerolog.Logger {
	return bootstrapWithWriter(os.Stderr)
}

func bootstrapWithWriter(out io.Writer) zerolog.Logger {
	return zerolog.New(out).With().Timestamp().Str("service", "staff-chat").Logger()
}

func newWithWriter(env, level string, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = out
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "staff-chat").
		Logger()
}
