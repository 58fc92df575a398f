// Package logger builds the zerolog logger shared by the service.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dopaminelite/filestorage/internal/config"
)

const (
	FieldComponent = "component"
	FieldFileID    = "file_id"
	FieldUserID    = "user_id"
)

// New creates the root logger from config. Format "console" or "pretty" writes
// human readable lines, anything else writes JSON.
func New(cfg config.LogConfig, service string) zerolog.Logger {
	return NewWithWriter(cfg, service, os.Stdout)
}

// NewWithWriter is New with an explicit output, used by tests
func NewWithWriter(cfg config.LogConfig, service string, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Component returns a child logger tagged with a component name
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str(FieldComponent, name).Logger()
}
