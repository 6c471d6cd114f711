// Package logging builds the process zerolog logger.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to w at level. format "console" selects the
// human-readable writer; anything else emits JSON lines.
func New(level, format string, w io.Writer) zerolog.Logger {
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", "guardrail").
		Logger()
}

// ParseLevel converts a level name to a zerolog level, defaulting to info.
// "warning" and "off" are accepted as aliases.
func ParseLevel(level string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	switch name {
	case "warning":
		name = zerolog.WarnLevel.String()
	case "off":
		name = "disabled"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
