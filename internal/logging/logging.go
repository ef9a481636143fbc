// Package logging builds the slog loggers used by the AutoTable binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// New returns a tint logger writing to f. Color is enabled only when f is
// a terminal, and timestamps are dropped under systemd.
func New(f *os.File, level slog.Leveler) *slog.Logger {
	noColor := !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	return slog.New(NewHandler(colorable.NewColorable(f), level, noColor, os.Getenv("JOURNAL_STREAM") != ""))
}

// NewHandler returns the tint handler New uses.
func NewHandler(w io.Writer, level slog.Leveler, noColor, dropTime bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if dropTime && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			switch v := a.Value.Any().(type) {
			case nil:
				return slog.Attr{}
			case string:
				if v == "" {
					return slog.Attr{}
				}
			}
			return a
		},
	})
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
