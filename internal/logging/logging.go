package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the process logger.
type Options struct {
	Level  string
	Format string
	// ErrorLog receives warn and above, appended, in JSON with UTC timestamps.
	ErrorLog string
	Console  io.Writer
}

// New builds the process logger. The returned closer releases the error log.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	if strings.EqualFold(opts.Format, "text") || opts.Format == "" {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}

	var (
		writer io.Writer = console
		closer io.Closer = nopCloser{}
	)
	if opts.ErrorLog != "" {
		if err := os.MkdirAll(filepath.Dir(opts.ErrorLog), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		file, err := os.OpenFile(opts.ErrorLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open error log: %w", err)
		}
		writer = zerolog.MultiLevelWriter(console, &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: file},
			Level:  zerolog.WarnLevel,
		})
		closer = file
	}

	logger := zerolog.New(writer).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
	return logger, closer, nil
}

// Console returns a logger for use before configuration is loaded.
func Console(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
