// Package logging selects the process-wide slog handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"toolgate/config"
)

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ParseLevel maps debug|info|warn|error to a level. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler returns a tint handler for text output and a JSON handler
// otherwise. An empty format picks text when out is a terminal.
func NewHandler(out io.Writer, cfg config.LogConfig) slog.Handler {
	level := ParseLevel(cfg.Level)
	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = FormatJSON
		if isTerminal(out) {
			format = FormatText
		}
	}

	if format == FormatText {
		return tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(out),
		})
	}
	return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
}

// Setup installs the handler for os.Stdout as the slog default.
func Setup(cfg config.LogConfig) *slog.Logger {
	logger := slog.New(NewHandler(os.Stdout, cfg))
	slog.SetDefault(logger)
	return logger
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
