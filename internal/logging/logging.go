package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var (
	defaultLogger *zerolog.Logger
	loggerOnce    sync.Once
)

// GetDefaultLogger returns the process-wide root logger. Components derive
// scoped loggers from it via With().Str("component", ...).
func GetDefaultLogger() *zerolog.Logger {
	loggerOnce.Do(initDefaultLogger)
	return defaultLogger
}

func initDefaultLogger() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(parseLevel(os.Getenv("LOG_LEVEL")))

	var out io.Writer = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}

	l := zerolog.New(out).With().Timestamp().Logger()
	defaultLogger = &l
}

// SetLevel changes the level for every logger derived from this package.
// Unknown names fall back to info.
func SetLevel(level string) {
	loggerOnce.Do(initDefaultLogger)
	zerolog.SetGlobalLevel(parseLevel(level))
}

func parseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}
