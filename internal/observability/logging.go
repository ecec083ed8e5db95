// Package observability provides memoria's structured logging, grounded on
// the teacher's zerolog + trace-context enrichment split.
package observability

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Init configures the process-wide zerolog level and writer format.
// level is one of zerolog's level names ("debug", "info", "warn", "error");
// format is "console" (human-readable) or "json" (the default if unset).
func Init(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var writer = os.Stdout
	if strings.ToLower(format) == "console" {
		cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		return zerolog.New(cw).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(writer).With().Timestamp().Logger()
}
