package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// ParseLevel maps a config string to a slog level. Unknown strings mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// Options controls logger construction.
type Options struct {
	Level  slog.Level
	Format string // "text" or "json"
	Output io.Writer
}

// New builds the process logger. Text output goes through tint with colors
// when attached to a terminal; json output uses the stock JSON handler.
// Either way the handler is wrapped for run/step correlation.
func New(opts Options) *slog.Logger {
	w := opts.Output
	if w == nil {
		w = os.Stderr
	}

	var inner slog.Handler
	if opts.Format == "json" {
		inner = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level})
	} else {
		color := false
		if f, ok := w.(*os.File); ok {
			color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
		inner = tint.NewHandler(w, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.Kitchen,
			NoColor:    !color,
		})
	}

	return slog.New(NewCorrelationHandler(inner))
}
