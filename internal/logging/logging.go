// Package logging configures zerolog for the scanner process.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Config controls logger initialization.
type Config struct {
	Format    string // "json", "console", or "auto"
	Level     string // "debug", "info", "warn", "error"
	Component string // optional component name
}

// Init configures zerolog globals and establishes the package baseline logger.
func Init(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	writer := selectWriter(cfg.Format)

	contextBuilder := zerolog.New(writer).With().Timestamp()
	if component := strings.TrimSpace(cfg.Component); component != "" {
		contextBuilder = contextBuilder.Str("component", component)
	}

	log.Logger = contextBuilder.Logger()
	return log.Logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

func selectWriter(format string) io.Writer {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return os.Stderr
	case "console":
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	default: // auto: console on a terminal, json otherwise
		if term.IsTerminal(int(os.Stderr.Fd())) {
			return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		return os.Stderr
	}
}
