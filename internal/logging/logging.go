// Package logging owns the process logger.
//
// Init once at startup, then derive component loggers:
//
//	logging.Init("info", "console")
//	log := logging.Component("registry")
//	log.Info().Str("shard", addr).Msg("shard provisioned")
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stdout, "console", zerolog.InfoLevel)
)

func newLogger(w io.Writer, format string, level zerolog.Level) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Init replaces the process logger. format is "json" or "console".
func Init(level, format string) {
	InitWithWriter(os.Stdout, level, format)
}

// InitWithWriter is Init with an explicit destination, used by tests.
func InitWithWriter(w io.Writer, level, format string) {
	l := newLogger(w, format, ParseLevel(level))
	mu.Lock()
	logger = l
	mu.Unlock()
}

// ParseLevel maps a configured level name to a zerolog level. Unknown
// names fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warning", "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns the process logger.
func Logger() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

// Component returns a child logger tagged with the component name.
func Component(name string) *zerolog.Logger {
	l := Logger().With().Str("component", name).Logger()
	return &l
}

// Nop returns a logger that discards everything.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
