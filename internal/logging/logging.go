// Package logging builds the zerolog loggers used by the CLI and the daemon.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the log encoding.
type Format int

const (
	// Console is the human-readable format for interactive commands.
	Console Format = iota
	// JSON is one object per line, for the daemon.
	JSON
)

// ParseLevel parses a level name; the empty string means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

// New returns a logger writing to w at level. An unknown level falls back
// to info and is reported through the returned logger.
func New(level string, format Format, w io.Writer) zerolog.Logger {
	lvl, err := ParseLevel(level)
	if format == Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	if err != nil {
		log.Warn().Err(err).Msg("using info level")
	}
	return log
}

// Levels lists the level names accepted by ParseLevel, most verbose first.
func Levels() []string {
	return []string{"trace", "debug", "info", "warn", "error"}
}
