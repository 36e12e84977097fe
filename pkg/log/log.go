// Package log builds [slog.Handler] values for fsmatcher binaries and the
// embedded engine, including size-rotated log files.
package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Format names a handler encoding.
type Format string

// Level names a minimum log level.
type Level string

const (
	FormatJSON   Format = "json"
	FormatLogfmt Format = "logfmt"
	FormatText   Format = "text"

	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrUnknownLogLevel  = errors.New("unknown log level")
	ErrUnknownLogFormat = errors.New("unknown log format")

	// AllFormats lists the accepted format names.
	AllFormats = []string{string(FormatText), string(FormatLogfmt), string(FormatJSON)}
	// AllLevels lists the accepted level names, most verbose first.
	AllLevels = []string{string(LevelDebug), string(LevelInfo), string(LevelWarn), string(LevelError)}

	levels = map[Level]slog.Level{
		LevelDebug: slog.LevelDebug,
		LevelInfo:  slog.LevelInfo,
		LevelWarn:  slog.LevelWarn,
		"warning":  slog.LevelWarn,
		LevelError: slog.LevelError,
	}
)

// CreateHandlerWithStrings creates a [slog.Handler] from level and format
// names, as given on a command line or in a config file.
func CreateHandlerWithStrings(w io.Writer, logLevel, logFormat string) (slog.Handler, error) {
	lvl, err := GetLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	format, err := GetFormat(logFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return CreateHandler(w, lvl, format), nil
}

// CreateHandler creates a [slog.Handler] writing to w. JSON and logfmt
// records carry their source location; text is colorized for terminals.
func CreateHandler(w io.Writer, lvl slog.Level, format Format) slog.Handler {
	opts := &slog.HandlerOptions{AddSource: true, Level: lvl}

	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(w, opts)
	case FormatLogfmt:
		return slog.NewTextHandler(w, opts)
	default:
		return newTextHandler(w, lvl)
	}
}

// GetLevel parses a level name, case-insensitively. "warning" is accepted
// for warn.
func GetLevel(name string) (slog.Level, error) {
	if lvl, ok := levels[Level(strings.ToLower(name))]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("%w %q, want one of: %s", ErrUnknownLogLevel, name, strings.Join(AllLevels, ", "))
}

// GetFormat parses a format name, case-insensitively.
func GetFormat(name string) (Format, error) {
	format := strings.ToLower(name)
	if slices.Contains(AllFormats, format) {
		return Format(format), nil
	}
	return "", fmt.Errorf("%w %q, want one of: %s", ErrUnknownLogFormat, name, strings.Join(AllFormats, ", "))
}

func newTextHandler(w io.Writer, lvl slog.Level) slog.Handler {
	return charmlog.NewWithOptions(w, charmlog.Options{
		//nolint:gosec // G115: slog levels fit in int32.
		Level:           charmlog.Level(int32(lvl)),
		Formatter:       charmlog.TextFormatter,
		ReportTimestamp: true,
		ReportCaller:    true,
		TimeFormat:      time.DateTime,
	})
}
