// Package ragtslog provides the single package-level logger shared by every
// DB-facing package, mirroring the teacher's logging package shape (one
// constructed-once logger, level from an environment variable) but built on
// zerolog, the structured logging dependency the teacher's go.mod actually
// declares.
package ragtslog

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Logger returns the shared package-level logger, constructing it on first
// use from RAGPG_LOG_LEVEL (default "info") and RAGPG_ENV (default "dev").
// RAGPG_ENV=prod emits JSON lines to stderr; anything else gets the
// human-readable zerolog.ConsoleWriter.
func Logger() zerolog.Logger {
	once.Do(func() {
		level, err := zerolog.ParseLevel(os.Getenv("RAGPG_LOG_LEVEL"))
		if err != nil || level == zerolog.NoLevel {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)

		if os.Getenv("RAGPG_ENV") == "prod" {
			logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		} else {
			writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
			logger = zerolog.New(writer).With().Timestamp().Logger()
		}
	})
	return logger
}

// SetForTesting overrides the shared logger, letting tests capture output or
// silence it entirely (zerolog.Nop()).
func SetForTesting(l zerolog.Logger) {
	once.Do(func() {})
	logger = l
}
